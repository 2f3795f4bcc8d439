package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/consumer"
	"github.com/dharsanguruparan/photolib/internal/events"
	"github.com/dharsanguruparan/photolib/internal/mail"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/repository"
	"github.com/dharsanguruparan/photolib/internal/router"
)

type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (c *captureQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	return &asynq.TaskInfo{}, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishJSON(context.Context, any, router.Attributes) (int, error) { return 1, nil }

type nopSender struct{}

func (nopSender) Send(context.Context, mail.Message) error { return nil }

type deleter struct {
	mu   sync.Mutex
	keys []string
}

func (d *deleter) Delete(_ context.Context, bucket, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	return nil
}

type fixture struct {
	proc    *Processor
	store   *repository.MemoryStore
	dlq     *captureQueue
	deleted *deleter
}

func newFixture() fixture {
	store := repository.NewMemoryStore()
	dlq := &captureQueue{}
	del := &deleter{}
	log := zerolog.Nop()
	proc := NewProcessor(Consumers{
		Ingestion:    consumer.NewIngestion(store, log),
		Metadata:     consumer.NewMetadata(store, log),
		Status:       consumer.NewStatus(store, nopPublisher{}, log),
		Compensation: consumer.NewCompensation(del, log),
		Mailer:       consumer.NewMailer(store, nopSender{}, consumer.MailerOptions{Recipient: "x@example.com"}, log),
	}, dlq, "dead-letter", log)
	return fixture{proc: proc, store: store, dlq: dlq, deleted: del}
}

func objectTask(t *testing.T, key string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(events.NewObjectCreated("photos", key))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(queue.TypeObjectCreated, body)
}

func envelopeTask(t *testing.T, taskType string, body any, attrs router.Attributes) *asynq.Task {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	payload, err := json.Marshal(router.Envelope{ID: "env-1", Attributes: attrs, Body: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return asynq.NewTask(taskType, payload)
}

func TestExhausted(t *testing.T) {
	transient := errors.New("timeout")
	cases := []struct {
		retried, max int
		err          error
		want         bool
	}{
		{0, 0, transient, true},
		{0, 2, transient, false},
		{1, 2, transient, false},
		{2, 2, transient, true},
		{0, 5, fmt.Errorf("bad: %w", asynq.SkipRetry), true},
	}
	for _, tc := range cases {
		if got := Exhausted(tc.retried, tc.max, tc.err); got != tc.want {
			t.Fatalf("Exhausted(%d, %d, %v) = %v, want %v", tc.retried, tc.max, tc.err, got, tc.want)
		}
	}
}

func TestObjectCreatedPermanentSkipsRetry(t *testing.T) {
	f := newFixture()
	err := f.proc.handleObjectCreated(context.Background(), objectTask(t, "photo1.txt"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if err := f.proc.handleObjectCreated(context.Background(), objectTask(t, "photo1.png")); err != nil {
		t.Fatalf("valid upload: %v", err)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected one record, got %d", f.store.Len())
	}
}

// Upload of a non-image: one attempt, dead-lettered, then compensated.
func TestPoisonUploadIsCompensated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	task := objectTask(t, "photo1.txt")

	err := f.proc.handleObjectCreated(ctx, task)
	if err == nil {
		t.Fatalf("expected failure")
	}
	f.proc.forward(ctx, task, failure{taskID: "task-1", queue: "ingest", retried: 0, maxRetry: 0, err: err})
	if len(f.dlq.tasks) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(f.dlq.tasks))
	}
	dead := f.dlq.tasks[0]
	if dead.Type() != queue.TypeDeadLetter {
		t.Fatalf("dead letter type = %s", dead.Type())
	}
	if err := f.proc.handleDeadLetter(ctx, dead); err != nil {
		t.Fatalf("compensation must not fail: %v", err)
	}
	if len(f.deleted.keys) != 1 || f.deleted.keys[0] != "photo1.txt" {
		t.Fatalf("deleted %v", f.deleted.keys)
	}
	if f.store.Len() != 0 {
		t.Fatalf("compensation must not touch the store")
	}
}

// One notification with a valid image and a non-image: only the non-image
// is compensated and the ingested record keeps its object.
func TestMixedUploadCompensatesOnlyRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	evt := events.NewObjectCreated("photos", "good.png")
	evt.Records = append(evt.Records, events.NewEncodedRecord("s3:ObjectCreated:Put", "photos", "bad.txt", 3))
	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	task := asynq.NewTask(queue.TypeObjectCreated, body)

	err = f.proc.handleObjectCreated(ctx, task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	f.proc.forward(ctx, task, failure{taskID: "task-2", queue: "ingest", retried: 0, maxRetry: 0, err: err})
	if len(f.dlq.tasks) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(f.dlq.tasks))
	}
	dl, err := queue.DecodeDeadLetter(f.dlq.tasks[0].Payload())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dl.Rejected) != 1 || dl.Rejected[0] != "bad.txt" {
		t.Fatalf("rejected = %v", dl.Rejected)
	}
	if err := f.proc.handleDeadLetter(ctx, f.dlq.tasks[0]); err != nil {
		t.Fatalf("compensation must not fail: %v", err)
	}
	if len(f.deleted.keys) != 1 || f.deleted.keys[0] != "bad.txt" {
		t.Fatalf("deleted %v", f.deleted.keys)
	}
	if _, err := f.store.Get(ctx, "good.png"); err != nil {
		t.Fatalf("ingested sibling lost: %v", err)
	}
}

func TestForwardOnlyExhaustedIngestion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	transient := errors.New("store down")

	f.proc.forward(ctx, objectTask(t, "a.jpg"), failure{taskID: "t1", retried: 0, maxRetry: 2, err: transient})
	if len(f.dlq.tasks) != 0 {
		t.Fatalf("retries left, nothing should be dead-lettered")
	}
	status := envelopeTask(t, queue.TypeStatus, events.StatusUpdate{ID: "a.jpg", Decision: "Pass"}, nil)
	f.proc.forward(ctx, status, failure{taskID: "t2", retried: 3, maxRetry: 3, err: transient})
	if len(f.dlq.tasks) != 0 {
		t.Fatalf("only ingestion has a dead-letter consumer")
	}
	f.proc.forward(ctx, objectTask(t, "a.jpg"), failure{taskID: "t3", retried: 2, maxRetry: 2, err: transient})
	if len(f.dlq.tasks) != 1 {
		t.Fatalf("exhausted ingestion should be dead-lettered")
	}
	dl, err := queue.DecodeDeadLetter(f.dlq.tasks[0].Payload())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dl.Attempts != 3 || dl.TaskID != "t3" || dl.Error != "store down" {
		t.Fatalf("unexpected dead letter %+v", dl)
	}
}

func TestRoutedHandlersDropPermanentFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _ = f.store.Upsert(ctx, "photo1")

	handler := f.proc.routed(f.proc.consumers.Metadata.Handle)
	bad := envelopeTask(t, queue.TypeMetadata, events.MetadataUpdate{ID: "photo1", Field: "iso", Value: "100"}, nil)
	if err := handler(ctx, bad); err != nil {
		t.Fatalf("permanent failure should be acknowledged, got %v", err)
	}
	missing := envelopeTask(t, queue.TypeMetadata, events.MetadataUpdate{ID: "ghost", Field: "caption", Value: "x"}, nil)
	if err := handler(ctx, missing); err == nil {
		t.Fatalf("missing record should be retried")
	}
	good := envelopeTask(t, queue.TypeMetadata, events.MetadataUpdate{ID: "photo1", Field: "caption", Value: "Sunset"}, router.Attributes{events.AttrMetadataType: "Caption"})
	if err := handler(ctx, good); err != nil {
		t.Fatalf("good update: %v", err)
	}
	if err := handler(ctx, asynq.NewTask(queue.TypeMetadata, []byte("{"))); err != nil {
		t.Fatalf("undecodable envelope should be dropped, got %v", err)
	}
}

func TestHandlerRegistersEveryTaskType(t *testing.T) {
	f := newFixture()
	mux := f.proc.Handler()
	for _, typ := range []string{queue.TypeObjectCreated, queue.TypeDeadLetter, queue.TypeMetadata, queue.TypeStatus, queue.TypeNotify} {
		if _, pattern := mux.Handler(asynq.NewTask(typ, nil)); pattern != typ {
			t.Fatalf("no handler for %s (got %q)", typ, pattern)
		}
	}
}
