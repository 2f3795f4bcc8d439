package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/consumer"
	"github.com/dharsanguruparan/photolib/internal/logger"
	"github.com/dharsanguruparan/photolib/internal/mail"
	"github.com/dharsanguruparan/photolib/internal/pipeline"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/s3storage"
	"github.com/dharsanguruparan/photolib/internal/worker"
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
	sender, err := mail.NewSMTPSender(cfg.Mail)
	if err != nil {
		log.Fatal().Err(err).Msg("init smtp")
	}

	redis := queue.RedisOpt(cfg.Redis)
	client := asynq.NewClient(redis)
	defer client.Close()
	topology, err := pipeline.New(client, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build topology")
	}

	processor := worker.NewProcessor(worker.Consumers{
		Ingestion:    consumer.NewIngestion(store, log),
		Metadata:     consumer.NewMetadata(store, log),
		Status:       consumer.NewStatus(store, topology.Mailer, log),
		Compensation: consumer.NewCompensation(objects, log),
		Mailer: consumer.NewMailer(store, sender, consumer.MailerOptions{
			Recipient:  cfg.Mail.Recipient,
			DedupeSize: cfg.Dedupe.Size,
			DedupeTTL:  cfg.Dedupe.TTL,
		}, log),
	}, client, cfg.Queues.DeadLetter, log)
	server := asynq.NewServer(redis, worker.ServerConfig(cfg.Queues, processor, log))

	ingest := pipeline.IngestPolicy(cfg.Queues)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(processor.Handler()); err != nil {
			return fmt.Errorf("start asynq server: %w", err)
		}
		<-gctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error {
		err := objects.Watch(gctx, func(ctx context.Context, body []byte) error {
			return queue.EnqueueObjectCreated(ctx, client, body, ingest)
		}, log)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddress)
	})

	log.Info().Int("concurrency", cfg.Queues.Concurrency).Msg("worker started")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
