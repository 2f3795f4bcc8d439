package consumer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
)

// Upserter creates the identity row of a photo.
type Upserter interface {
	Upsert(ctx context.Context, id string) (bool, error)
}

// Ingestion turns object-created notifications into bare photo records.
type Ingestion struct {
	store Upserter
	log   zerolog.Logger
}

// NewIngestion builds the ingestion consumer.
func NewIngestion(store Upserter, log zerolog.Logger) *Ingestion {
	return &Ingestion{store: store, log: componentLogger(log, "ingestion")}
}

// Handle processes every record of a notification. Valid image keys are
// upserted even when a sibling record is rejected; any rejected record makes
// the whole message fail permanently so it is dead-lettered and compensated.
func (c *Ingestion) Handle(ctx context.Context, body []byte) error {
	return observe("ingestion", c.handle(ctx, body))
}

func (c *Ingestion) handle(ctx context.Context, body []byte) error {
	evt, err := events.ParseObjectCreated(body)
	if err != nil {
		return Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	var rejected []string
	for _, rec := range evt.Records {
		key, err := events.DecodeKey(rec.S3.Object.Key)
		if err != nil {
			c.log.Warn().Err(err).Str("raw_key", rec.S3.Object.Key).Msg("undecodable object key")
			rejected = append(rejected, rec.S3.Object.Key)
			continue
		}
		if !events.IsImageKey(key) {
			c.log.Warn().Str("key", key).Msg("rejecting non-image upload")
			rejected = append(rejected, key)
			continue
		}
		created, err := c.store.Upsert(ctx, key)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
		c.log.Info().Str("id", key).Bool("created", created).Msg("photo ingested")
	}
	if len(rejected) > 0 {
		return Permanent(&RejectedError{Keys: rejected})
	}
	return nil
}
