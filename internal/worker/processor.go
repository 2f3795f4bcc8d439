// Package worker plugs the consumers into the asynq server loop and owns the
// retry and dead-letter policy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/consumer"
	"github.com/dharsanguruparan/photolib/internal/queue"
	"github.com/dharsanguruparan/photolib/internal/router"
)

// Consumers groups the handlers the worker dispatches to.
type Consumers struct {
	Ingestion    *consumer.Ingestion
	Metadata     *consumer.Metadata
	Status       *consumer.Status
	Compensation *consumer.Compensation
	Mailer       *consumer.Mailer
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	consumers       Consumers
	deadLetters     queue.Enqueuer
	deadLetterQueue string
	now             func() time.Time
	log             zerolog.Logger
}

// NewProcessor constructs a worker processor. Exhausted ingestion tasks are
// forwarded through deadLetters onto deadLetterQueue.
func NewProcessor(c Consumers, deadLetters queue.Enqueuer, deadLetterQueue string, log zerolog.Logger) *Processor {
	return &Processor{
		consumers:       c,
		deadLetters:     deadLetters,
		deadLetterQueue: deadLetterQueue,
		now:             time.Now,
		log:             log.With().Str("component", "worker").Logger(),
	}
}

// Handler registers one handler per task type.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeObjectCreated, p.handleObjectCreated)
	mux.HandleFunc(queue.TypeDeadLetter, p.handleDeadLetter)
	mux.HandleFunc(queue.TypeMetadata, p.routed(p.consumers.Metadata.Handle))
	mux.HandleFunc(queue.TypeStatus, p.routed(p.consumers.Status.Handle))
	mux.HandleFunc(queue.TypeNotify, p.routed(p.consumers.Mailer.Handle))
	return mux
}

// handleObjectCreated skips retries for permanent failures so the task goes
// straight to the dead-letter path.
func (p *Processor) handleObjectCreated(ctx context.Context, task *asynq.Task) error {
	err := p.consumers.Ingestion.Handle(ctx, task.Payload())
	if consumer.IsPermanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *Processor) handleDeadLetter(ctx context.Context, task *asynq.Task) error {
	dl, err := queue.DecodeDeadLetter(task.Payload())
	if err != nil {
		p.log.Error().Err(err).Msg("discarding unreadable dead letter")
		return nil
	}
	p.consumers.Compensation.Handle(ctx, dl)
	return nil
}

// routed adapts an envelope handler. Permanent failures are acknowledged so
// they are dropped; transient ones go back to asynq for redelivery.
func (p *Processor) routed(handle func(context.Context, router.Envelope) error) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		env, err := queue.DecodeEnvelope(task.Payload())
		if err != nil {
			p.log.Error().Err(err).Str("type", task.Type()).Msg("dropping undecodable envelope")
			return nil
		}
		if err := handle(ctx, env); err != nil {
			if consumer.IsPermanent(err) {
				return nil
			}
			return err
		}
		return nil
	}
}

// HandleError is the asynq error hook. It runs after every failed attempt.
func (p *Processor) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	id, _ := asynq.GetTaskID(ctx)
	queueName, _ := asynq.GetQueueName(ctx)
	p.log.Warn().Err(err).
		Str("type", task.Type()).
		Str("task", id).
		Str("queue", queueName).
		Int("retried", retried).
		Int("max_retry", maxRetry).
		Msg("task failed")
	p.forward(context.WithoutCancel(ctx), task, failure{
		taskID:   id,
		queue:    queueName,
		retried:  retried,
		maxRetry: maxRetry,
		err:      err,
	})
}

type failure struct {
	taskID   string
	queue    string
	retried  int
	maxRetry int
	err      error
}

// forward dead-letters an ingestion task whose budget is spent. Tasks of any
// other type are left to asynq's archive.
func (p *Processor) forward(ctx context.Context, task *asynq.Task, f failure) {
	if task.Type() != queue.TypeObjectCreated || !Exhausted(f.retried, f.maxRetry, f.err) {
		return
	}
	body := json.RawMessage(task.Payload())
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(task.Payload()))
		body = quoted
	}
	dl := queue.DeadLetter{
		TaskID:   f.taskID,
		Type:     task.Type(),
		Queue:    f.queue,
		Attempts: f.retried + 1,
		Error:    f.err.Error(),
		Body:     body,
		FailedAt: p.now().UTC(),
		Rejected: consumer.RejectedKeys(f.err),
	}
	if err := queue.EnqueueDeadLetter(ctx, p.deadLetters, dl, p.deadLetterQueue); err != nil {
		p.log.Error().Err(err).Str("task", f.taskID).Msg("dead-letter forward failed")
		return
	}
	p.log.Info().Str("task", f.taskID).Int("attempts", dl.Attempts).Msg("ingestion message dead-lettered")
}

// Exhausted reports whether a failed attempt was the last one asynq will make.
// retried counts the attempts made before the one that failed.
func Exhausted(retried, maxRetry int, err error) bool {
	return retried >= maxRetry || errors.Is(err, asynq.SkipRetry)
}
