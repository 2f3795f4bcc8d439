package consumer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/queue"
)

// ObjectDeleter removes an uploaded object. An empty bucket means the
// configured upload bucket.
type ObjectDeleter interface {
	Delete(ctx context.Context, bucket, key string) error
}

// Compensation deletes the uploads behind dead-lettered ingestion messages.
// It never writes to the photo store and never fails a dead letter.
type Compensation struct {
	objects ObjectDeleter
	log     zerolog.Logger
}

// NewCompensation builds the compensation consumer.
func NewCompensation(objects ObjectDeleter, log zerolog.Logger) *Compensation {
	return &Compensation{objects: objects, log: componentLogger(log, "compensation")}
}

// Handle deletes the objects named in the dead-lettered notification and
// returns the number removed. When the dead letter lists rejected keys only
// those are deleted; valid siblings were already ingested and stay. Errors
// are logged and swallowed.
func (c *Compensation) Handle(ctx context.Context, dl queue.DeadLetter) int {
	log := c.log.With().Str("task", dl.TaskID).Int("attempts", dl.Attempts).Logger()
	evt, err := events.ParseObjectCreated(dl.Body)
	if err != nil {
		log.Error().Err(err).Msg("dead letter does not hold an object notification")
		messagesTotal.WithLabelValues("compensation", outcomeDropped).Inc()
		return 0
	}
	rejected := make(map[string]struct{}, len(dl.Rejected))
	for _, k := range dl.Rejected {
		rejected[k] = struct{}{}
	}
	deleted := 0
	for _, rec := range evt.Records {
		raw := rec.S3.Object.Key
		key, err := events.DecodeKey(raw)
		if err != nil {
			log.Warn().Err(err).Str("raw_key", raw).Msg("deleting undecoded object key")
			key = raw
		}
		if len(rejected) > 0 && !isRejected(rejected, key, raw) {
			log.Debug().Str("key", key).Msg("keeping ingested sibling")
			continue
		}
		if err := c.objects.Delete(ctx, rec.S3.Bucket.Name, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("compensating delete failed")
			continue
		}
		deleted++
		objectsDeletedTotal.Inc()
		log.Info().Str("bucket", rec.S3.Bucket.Name).Str("key", key).Str("cause", dl.Error).Msg("deleted rejected upload")
	}
	messagesTotal.WithLabelValues("compensation", outcomeProcessed).Inc()
	return deleted
}

func isRejected(rejected map[string]struct{}, key, raw string) bool {
	if _, ok := rejected[key]; ok {
		return true
	}
	_, ok := rejected[raw]
	return ok
}
