// Package queue defines the asynq task types of the pipeline and the helpers
// that put work onto the durable queues.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypeObjectCreated carries a storage notification to the ingestion consumer.
	TypeObjectCreated = "photo:object-created"
	// TypeDeadLetter carries an ingestion message whose budget ran out.
	TypeDeadLetter = "photo:dead-letter"
	// TypeMetadata carries a routed metadata update.
	TypeMetadata = "photo:metadata"
	// TypeStatus carries a routed status decision.
	TypeStatus = "photo:status"
	// TypeNotify carries a routed mailer notification.
	TypeNotify = "photo:notify"
)

// Enqueuer is the subset of *asynq.Client the pipeline needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Policy is the per-queue delivery budget.
type Policy struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

func (p Policy) options() []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(p.MaxRetry)}
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.Timeout))
	}
	return opts
}

// EnqueueObjectCreated puts a raw storage notification on the ingestion queue.
func EnqueueObjectCreated(ctx context.Context, q Enqueuer, body []byte, policy Policy) error {
	if !json.Valid(body) {
		return errors.New("object notification is not valid JSON")
	}
	task := asynq.NewTask(TypeObjectCreated, body)
	if _, err := q.EnqueueContext(ctx, task, policy.options()...); err != nil {
		return fmt.Errorf("enqueue object notification: %w", err)
	}
	return nil
}

// DeadLetter wraps a message that exhausted its delivery budget.
type DeadLetter struct {
	TaskID   string          `json:"task_id"`
	Type     string          `json:"type"`
	Queue    string          `json:"queue"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error"`
	Body     json.RawMessage `json:"body"`
	FailedAt time.Time       `json:"failed_at"`
	// Rejected names the object keys that caused the failure. Empty means
	// every object in Body is to be compensated.
	Rejected []string `json:"rejected,omitempty"`
}

// EnqueueDeadLetter moves a failed message onto the dead-letter queue. Dead
// letters are attempted once and never forwarded again.
func EnqueueDeadLetter(ctx context.Context, q Enqueuer, dl DeadLetter, queueName string) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(0), asynq.Queue(queueName)}
	if dl.TaskID != "" {
		opts = append(opts, asynq.TaskID("dlq:"+dl.TaskID))
	}
	_, err = q.EnqueueContext(ctx, asynq.NewTask(TypeDeadLetter, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	return nil
}

// DecodeDeadLetter reads a dead-letter task payload.
func DecodeDeadLetter(payload []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(payload, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	return dl, nil
}
