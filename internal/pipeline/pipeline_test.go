package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/consumer"
	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/mail"
	"github.com/dharsanguruparan/photolib/internal/model"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/router"
)

type counter struct {
	mu   sync.Mutex
	envs []router.Envelope
}

func (c *counter) Deliver(_ context.Context, env router.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func TestReviewRoutingIsExclusiveAndTotal(t *testing.T) {
	meta, status := &counter{}, &counter{}
	r, err := NewReviewRouter("photo-review", meta, status)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	ctx := context.Background()
	values := append(model.MetadataTypes(), "", "Other", "caption")
	for _, v := range values {
		attrs := router.Attributes{}
		if v != "" {
			attrs[events.AttrMetadataType] = v
		}
		before := meta.count() + status.count()
		if _, err := r.Publish(ctx, []byte(`{}`), attrs); err != nil {
			t.Fatalf("publish %q: %v", v, err)
		}
		if got := meta.count() + status.count() - before; got != 1 {
			t.Fatalf("metadata_type %q reached %d subscribers", v, got)
		}
	}
	if meta.count() != len(model.MetadataTypes()) {
		t.Fatalf("metadata consumer got %d messages", meta.count())
	}
}

func TestPublishMetadataTagsByField(t *testing.T) {
	meta, status := &counter{}, &counter{}
	r, err := NewReviewRouter("photo-review", meta, status)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	ctx := context.Background()
	if _, err := PublishMetadata(ctx, r, events.MetadataUpdate{ID: "p", Field: "DATE", Value: "2024-05-01"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if meta.count() != 1 || status.count() != 0 {
		t.Fatalf("metadata went to the wrong place: meta=%d status=%d", meta.count(), status.count())
	}
	env := meta.envs[0]
	if env.Attributes[events.AttrMetadataType] != "Date" {
		t.Fatalf("attributes = %v", env.Attributes)
	}
	var body events.MetadataUpdate
	if err := json.Unmarshal(env.Body, &body); err != nil || body.Field != "date" {
		t.Fatalf("body = %s (%v)", env.Body, err)
	}
	if _, err := PublishMetadata(ctx, r, events.MetadataUpdate{ID: "p", Field: "iso"}); err == nil {
		t.Fatalf("unknown field should be refused at publish time")
	}
	if _, err := PublishStatus(ctx, r, events.StatusUpdate{ID: "p", Decision: "Pass"}); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	if status.count() != 1 {
		t.Fatalf("status consumer got %d messages", status.count())
	}
	if _, err := PublishStatus(ctx, r, events.StatusUpdate{ID: "p", Decision: "Meh"}); err == nil {
		t.Fatalf("invalid decision should be refused")
	}
}

type inbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (i *inbox) Send(_ context.Context, msg mail.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, msg)
	return nil
}

func direct(handle func(context.Context, router.Envelope) error) router.Endpoint {
	return router.EndpointFunc(handle)
}

// Review messages flow through both topics in process and produce one email.
func TestReviewToEmail(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	box := &inbox{}
	log := zerolog.Nop()

	mailer := consumer.NewMailer(store, box, consumer.MailerOptions{Recipient: "photographer@example.com"}, log)
	mailRouter, err := NewMailerRouter("photo-mailer", direct(mailer.Handle))
	if err != nil {
		t.Fatalf("mailer router: %v", err)
	}
	metadata := consumer.NewMetadata(store, log)
	status := consumer.NewStatus(store, mailRouter, log)
	review, err := NewReviewRouter("photo-review", direct(metadata.Handle), direct(status.Handle))
	if err != nil {
		t.Fatalf("review router: %v", err)
	}

	ingest := consumer.NewIngestion(store, log)
	body, _ := json.Marshal(events.NewObjectCreated("photos", "photo1.jpg"))
	if err := ingest.Handle(ctx, body); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := PublishMetadata(ctx, review, events.MetadataUpdate{ID: "photo1.jpg", Field: "caption", Value: "Sunset"}); err != nil {
		t.Fatalf("publish caption: %v", err)
	}
	p, _ := store.Get(ctx, "photo1.jpg")
	if v, _ := p.Value(model.FieldCaption); v != "Sunset" || p.Status != model.StatusUnset {
		t.Fatalf("after caption: %+v", p)
	}
	if len(box.sent) != 0 {
		t.Fatalf("metadata must not trigger email")
	}

	reason := "Blurry"
	if _, err := PublishStatus(ctx, review, events.StatusUpdate{ID: "photo1.jpg", Decision: "Reject", Reason: &reason}); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	p, _ = store.Get(ctx, "photo1.jpg")
	if p.Status != model.StatusReject || p.Reason == nil || *p.Reason != "Blurry" {
		t.Fatalf("after status: %+v", p)
	}
	if len(box.sent) != 1 {
		t.Fatalf("expected exactly one email, got %d", len(box.sent))
	}
	if !strings.Contains(box.sent[0].Body, "Blurry") || box.sent[0].To != "photographer@example.com" {
		t.Fatalf("unexpected email %+v", box.sent[0])
	}
}
