// Package s3storage wraps the MinIO client for the upload bucket.
package s3storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/events"
)

// ErrNotificationStreamClosed means the bucket notification stream ended
// while the watcher was still running.
var ErrNotificationStreamClosed = errors.New("bucket notification stream closed")

// ObjectCreatedEvents are the notification events forwarded to ingestion.
var ObjectCreatedEvents = []string{"s3:ObjectCreated:*"}

// Storage wraps MinIO/S3 interactions for the photo bucket.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the S3 section of the config.
func New(cfg config.S3Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// Bucket is the configured upload bucket.
func (s *Storage) Bucket() string { return s.bucket }

// EnsureBucket makes sure the upload bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores an object in the upload bucket.
func (s *Storage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	return nil
}

// Delete removes an object. An empty bucket means the configured one.
// Removing a key that does not exist succeeds.
func (s *Storage) Delete(ctx context.Context, bucket, key string) error {
	if bucket == "" {
		bucket = s.bucket
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Sink receives one re-encoded object-created notification per record.
type Sink func(ctx context.Context, body []byte) error

// Watch listens for object-created notifications on the bucket and hands
// each record to sink as a single-record notification. It returns ctx.Err()
// once ctx is cancelled and ErrNotificationStreamClosed if the stream ends
// first.
func (s *Storage) Watch(ctx context.Context, sink Sink, log zerolog.Logger) error {
	log = log.With().Str("component", "bucket-watch").Str("bucket", s.bucket).Logger()
	ch := s.client.ListenBucketNotification(ctx, s.bucket, "", "", ObjectCreatedEvents)
	log.Info().Msg("listening for uploads")
	return relay(ctx, ch, sink, log)
}

// relay forwards notifications until ch closes. A close the caller did not
// ask for is reported as ErrNotificationStreamClosed.
func relay(ctx context.Context, ch <-chan notification.Info, sink Sink, log zerolog.Logger) error {
	for info := range ch {
		if info.Err != nil {
			log.Error().Err(info.Err).Msg("bucket notification error")
			continue
		}
		for _, rec := range info.Records {
			evt := events.ObjectCreated{Records: []events.ObjectRecord{
				events.NewEncodedRecord(rec.EventName, rec.S3.Bucket.Name, rec.S3.Object.Key, rec.S3.Object.Size),
			}}
			body, err := json.Marshal(evt)
			if err != nil {
				log.Error().Err(err).Msg("encode notification")
				continue
			}
			if err := sink(ctx, body); err != nil {
				log.Error().Err(err).Str("key", rec.S3.Object.Key).Msg("forward notification")
				continue
			}
			log.Debug().Str("key", rec.S3.Object.Key).Msg("notification forwarded")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrNotificationStreamClosed
}
