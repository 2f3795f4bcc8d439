package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// StatusSetter records a review decision.
type StatusSetter interface {
	SetStatus(ctx context.Context, id string, update model.StatusUpdate) error
}

// Publisher sends a message through a router topic.
type Publisher interface {
	PublishJSON(ctx context.Context, v any, attrs router.Attributes) (int, error)
}

// Status records review decisions and announces them to the mailer topic.
type Status struct {
	store  StatusSetter
	notify Publisher
	log    zerolog.Logger
}

// NewStatus builds the status consumer.
func NewStatus(store StatusSetter, notify Publisher, log zerolog.Logger) *Status {
	return &Status{store: store, notify: notify, log: componentLogger(log, "status")}
}

// Handle applies one decision. The store write commits first; a failed
// publish is retried, which re-applies the same idempotent write.
func (c *Status) Handle(ctx context.Context, env router.Envelope) error {
	err := c.handle(ctx, env)
	if IsPermanent(err) {
		c.log.Warn().Err(err).Str("envelope", env.ID).Msg("dropping status message")
	}
	return observe("status", err)
}

func (c *Status) handle(ctx context.Context, env router.Envelope) error {
	var msg events.StatusUpdate
	if err := json.Unmarshal(env.Body, &msg); err != nil {
		return Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if msg.ID == "" {
		return Permanent(fmt.Errorf("%w: missing id", ErrMalformed))
	}
	decision, err := model.ParseDecision(msg.Decision)
	if err != nil {
		return Permanent(err)
	}
	update := model.StatusUpdate{Status: decision, Reason: msg.Reason, Date: msg.Date}
	if err := c.store.SetStatus(ctx, msg.ID, update); err != nil {
		return fmt.Errorf("set status on %s: %w", msg.ID, err)
	}
	c.log.Info().Str("id", msg.ID).Str("decision", string(decision)).Msg("status updated")

	note := events.Notification{
		ID:       msg.ID,
		Email:    msg.NotifyAddress,
		Decision: string(decision),
		Reason:   msg.Reason,
	}
	if msg.Date != nil {
		note.Date = *msg.Date
	}
	n, err := c.notify.PublishJSON(ctx, note, router.Attributes{events.AttrMessageType: events.MessageTypeNotify})
	if err != nil {
		return fmt.Errorf("publish notification for %s: %w", msg.ID, err)
	}
	if n == 0 {
		c.log.Warn().Str("id", msg.ID).Msg("no mailer subscribed to notifications")
	}
	return nil
}
