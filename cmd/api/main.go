package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/photolib/internal/api"
	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/logger"
	"github.com/dharsanguruparan/photolib/internal/pipeline"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/s3storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	objects, err := s3storage.New(cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bucket")
	}

	client := asynq.NewClient(queue.RedisOpt(cfg.Redis))
	defer client.Close()
	topology, err := pipeline.New(client, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build topology")
	}

	srv := api.New(api.Options{Address: cfg.Address, MaxFileSize: cfg.MaxFileSize}, store, objects, topology.Review, log)
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("api stopped")
		os.Exit(1)
	}
}
