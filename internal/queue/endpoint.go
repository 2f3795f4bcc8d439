package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/photolib/internal/router"
)

// TaskEndpoint delivers router envelopes as asynq tasks, giving every
// subscription its own durable queue entry.
type TaskEndpoint struct {
	client   Enqueuer
	taskType string
	policy   Policy
}

// NewTaskEndpoint builds an endpoint that enqueues taskType under policy.
func NewTaskEndpoint(client Enqueuer, taskType string, policy Policy) *TaskEndpoint {
	return &TaskEndpoint{client: client, taskType: taskType, policy: policy}
}

// Deliver enqueues env. Re-delivering the same envelope to the same
// subscription while the first task is still pending is a no-op.
func (e *TaskEndpoint) Deliver(ctx context.Context, env router.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	opts := append(e.policy.options(), asynq.TaskID(e.taskType+":"+env.ID))
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(e.taskType, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", e.taskType, err)
	}
	return nil
}

// DecodeEnvelope reads an envelope back out of a task payload.
func DecodeEnvelope(payload []byte) (router.Envelope, error) {
	var env router.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return router.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		return router.Envelope{}, errors.New("envelope has no id")
	}
	return env, nil
}
