// Package pipeline declares the two router topics of the photo pipeline and
// the helpers producers use to publish onto them.
package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// Subscription names.
const (
	SubMetadata = "metadata"
	SubStatus   = "status"
	SubMailer   = "mailer"

	reviewGroup = "review-kind"
)

var deliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "photolib_deliveries_total",
		Help: "Router deliveries accepted per topic and subscription.",
	},
	[]string{"topic", "subscriber"},
)

// Topology holds both topics.
type Topology struct {
	Review *router.Router
	Mailer *router.Router
}

// NewReviewRouter builds the review topic. Metadata and status subscriptions
// are the inside and outside of one partition over metadata_type, so every
// review message reaches exactly one of them.
func NewReviewRouter(topic string, metadata, status router.Endpoint) (*router.Router, error) {
	r := router.New(topic)
	part := router.NewPartition(events.AttrMetadataType, model.MetadataTypes()...)
	subs := []router.Subscription{
		{Name: SubMetadata, Filter: part.Inside(), Endpoint: counted(topic, SubMetadata, metadata), Group: reviewGroup},
		{Name: SubStatus, Filter: part.Outside(), Endpoint: counted(topic, SubStatus, status), Group: reviewGroup},
	}
	for _, sub := range subs {
		if err := r.Subscribe(sub); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewMailerRouter builds the notification topic.
func NewMailerRouter(topic string, mailer router.Endpoint) (*router.Router, error) {
	r := router.New(topic)
	err := r.Subscribe(router.Subscription{
		Name:     SubMailer,
		Filter:   router.AllowList(events.AttrMessageType, events.MessageTypeNotify),
		Endpoint: counted(topic, SubMailer, mailer),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// New wires both topics to durable asynq queues.
func New(client queue.Enqueuer, cfg *config.Config) (*Topology, error) {
	review := queue.Policy{Queue: cfg.Queues.Review, MaxRetry: cfg.Queues.DeliveryRetries, Timeout: cfg.Queues.TaskTimeout}
	mailer := queue.Policy{Queue: cfg.Queues.Mailer, MaxRetry: cfg.Queues.DeliveryRetries, Timeout: cfg.Queues.TaskTimeout}
	reviewRouter, err := NewReviewRouter(cfg.Topics.Review,
		queue.NewTaskEndpoint(client, queue.TypeMetadata, review),
		queue.NewTaskEndpoint(client, queue.TypeStatus, review),
	)
	if err != nil {
		return nil, fmt.Errorf("review topic: %w", err)
	}
	mailerRouter, err := NewMailerRouter(cfg.Topics.Mailer, queue.NewTaskEndpoint(client, queue.TypeNotify, mailer))
	if err != nil {
		return nil, fmt.Errorf("mailer topic: %w", err)
	}
	return &Topology{Review: reviewRouter, Mailer: mailerRouter}, nil
}

// IngestPolicy is the delivery budget of ingestion tasks.
func IngestPolicy(q config.QueueConfig) queue.Policy {
	return queue.Policy{Queue: q.Ingest, MaxRetry: q.IngestMaxRetry(), Timeout: q.TaskTimeout}
}

// PublishMetadata validates msg and publishes it tagged with its field.
func PublishMetadata(ctx context.Context, r *router.Router, msg events.MetadataUpdate) (int, error) {
	if msg.ID == "" {
		return 0, fmt.Errorf("metadata update needs an id")
	}
	field, err := model.ParseField(msg.Field)
	if err != nil {
		return 0, err
	}
	msg.Field = field.String()
	return r.PublishJSON(ctx, msg, router.Attributes{events.AttrMetadataType: field.Attribute()})
}

// PublishStatus validates msg and publishes it untagged.
func PublishStatus(ctx context.Context, r *router.Router, msg events.StatusUpdate) (int, error) {
	if msg.ID == "" {
		return 0, fmt.Errorf("status update needs an id")
	}
	if _, err := model.ParseDecision(msg.Decision); err != nil {
		return 0, err
	}
	return r.PublishJSON(ctx, msg, nil)
}

func counted(topic, name string, next router.Endpoint) router.Endpoint {
	return router.EndpointFunc(func(ctx context.Context, env router.Envelope) error {
		if err := next.Deliver(ctx, env); err != nil {
			return err
		}
		deliveriesTotal.WithLabelValues(topic, name).Inc()
		return nil
	})
}
