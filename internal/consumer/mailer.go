package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/mail"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// PhotoReader loads the current state of a photo.
type PhotoReader interface {
	Get(ctx context.Context, id string) (*model.Photo, error)
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// MailerOptions configures the mailer consumer.
type MailerOptions struct {
	// Recipient receives notifications that carry no address of their own.
	Recipient  string
	DedupeSize int
	DedupeTTL  time.Duration
}

// Mailer emails the photographer when a review decision is announced.
type Mailer struct {
	store     PhotoReader
	sender    Sender
	recipient string
	sent      *expirable.LRU[string, struct{}]
	log       zerolog.Logger
}

// NewMailer builds the mailer consumer.
func NewMailer(store PhotoReader, sender Sender, opts MailerOptions, log zerolog.Logger) *Mailer {
	size := opts.DedupeSize
	if size <= 0 {
		size = 1024
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Mailer{
		store:     store,
		sender:    sender,
		recipient: opts.Recipient,
		sent:      expirable.NewLRU[string, struct{}](size, nil, ttl),
		log:       componentLogger(log, "mailer"),
	}
}

// Handle sends one email per notification envelope. Redelivery of an
// envelope that was already sent is acknowledged without sending again.
func (c *Mailer) Handle(ctx context.Context, env router.Envelope) error {
	if c.sent.Contains(env.ID) {
		c.log.Debug().Str("envelope", env.ID).Msg("notification already sent")
		messagesTotal.WithLabelValues("mailer", outcomeDuplicate).Inc()
		return nil
	}
	err := c.handle(ctx, env)
	if IsPermanent(err) {
		c.log.Warn().Err(err).Str("envelope", env.ID).Msg("dropping notification")
	}
	return observe("mailer", err)
}

func (c *Mailer) handle(ctx context.Context, env router.Envelope) error {
	if t := env.Attributes[events.AttrMessageType]; t != events.MessageTypeNotify {
		return Permanent(fmt.Errorf("unexpected message type %q", t))
	}
	var note events.Notification
	if err := json.Unmarshal(env.Body, &note); err != nil {
		return Permanent(fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if note.ID == "" {
		return Permanent(fmt.Errorf("%w: missing id", ErrMalformed))
	}
	if _, err := model.ParseDecision(note.Decision); err != nil {
		return Permanent(err)
	}
	photo, err := c.store.Get(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("load %s: %w", note.ID, err)
	}

	to := strings.TrimSpace(note.Email)
	if to == "" {
		to = c.recipient
	}
	msg := mail.StatusMessage(to, statusFor(note, photo))
	if err := c.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification for %s: %w", note.ID, err)
	}
	c.sent.Add(env.ID, struct{}{})
	emailsSentTotal.Inc()
	c.log.Info().Str("id", note.ID).Str("to", to).Str("decision", note.Decision).Msg("notification sent")
	return nil
}

// statusFor merges the notification with the stored record. Values carried
// by the notification win; the record fills the gaps.
func statusFor(note events.Notification, p *model.Photo) mail.StatusUpdate {
	u := mail.StatusUpdate{PhotoID: note.ID, Decision: note.Decision, Date: note.Date}
	if note.Reason != nil {
		u.Reason = *note.Reason
	} else if p.Reason != nil {
		u.Reason = *p.Reason
	}
	if p.PhotographerName != nil {
		u.Name = *p.PhotographerName
	}
	if u.Date == "" && p.CaptureDate != nil {
		u.Date = *p.CaptureDate
	}
	return u
}
