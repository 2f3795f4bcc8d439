package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/logger"
	"github.com/dharsanguruparan/photolib/internal/pipeline"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/s3storage"
)

// withTopology loads config, connects to the broker and hands fn the topics.
func withTopology(fn func(cfg *config.Config, client *asynq.Client, topo *pipeline.Topology) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := asynq.NewClient(queue.RedisOpt(cfg.Redis))
	defer client.Close()
	topo, err := pipeline.New(client, cfg)
	if err != nil {
		return err
	}
	return fn(cfg, client, topo)
}

func newMetadataCmd() *cobra.Command {
	var msg events.MetadataUpdate
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Publish a metadata update (caption, date or name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTopology(func(_ *config.Config, _ *asynq.Client, topo *pipeline.Topology) error {
				n, err := pipeline.PublishMetadata(cmd.Context(), topo.Review, msg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d subscription(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&msg.ID, "id", "", "Photo id (object key)")
	cmd.Flags().StringVar(&msg.Field, "field", "", "Field to set: caption, date or name")
	cmd.Flags().StringVar(&msg.Value, "value", "", "New value")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		msg          events.StatusUpdate
		reason, date string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Publish a review decision (Pass or Reject)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("reason") {
				msg.Reason = &reason
			}
			if cmd.Flags().Changed("date") {
				msg.Date = &date
			}
			return withTopology(func(_ *config.Config, _ *asynq.Client, topo *pipeline.Topology) error {
				n, err := pipeline.PublishStatus(cmd.Context(), topo.Review, msg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "delivered to %d subscription(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&msg.ID, "id", "", "Photo id (object key)")
	cmd.Flags().StringVar(&msg.Decision, "decision", "", "Pass or Reject")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason for the decision")
	cmd.Flags().StringVar(&msg.NotifyAddress, "email", "", "Address to notify (defaults to the configured recipient)")
	cmd.Flags().StringVar(&date, "date", "", "Capture date to record with the decision")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var bucket, key, file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Enqueue an object-created notification by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTopology(func(cfg *config.Config, client *asynq.Client, _ *pipeline.Topology) error {
				var body []byte
				switch {
				case file != "":
					data, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("read notification: %w", err)
					}
					body = data
				case key != "":
					if bucket == "" {
						bucket = cfg.S3.Bucket
					}
					data, err := json.Marshal(events.NewObjectCreated(bucket, key))
					if err != nil {
						return err
					}
					body = data
				default:
					return fmt.Errorf("either --key or --file is required")
				}
				if err := queue.EnqueueObjectCreated(cmd.Context(), client, body, pipeline.IngestPolicy(cfg.Queues)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "notification enqueued")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name (defaults to the configured bucket)")
	cmd.Flags().StringVar(&key, "key", "", "Decoded object key")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a raw notification document")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file to the photo bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := s3storage.New(cfg.S3)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if key == "" {
				key = filepath.Base(args[0])
			}
			if err := store.Upload(cmd.Context(), key, f, info.Size(), ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s to %s\n", key, store.Bucket())
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Object key (defaults to the file name)")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a photo record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Env, cfg.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, closeStore, err := repository.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()
			photo, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(photo)
		},
	}
}
