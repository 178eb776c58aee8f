// Package dispatch accepts tasks for asynchronous execution and runs
// the worker pool that drains the queue into the response store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/metrics"
	"github.com/agentwire/agentwire/pkg/queue"
)

// ErrQueueUnavailable is returned when the task could not be durably
// enqueued. The caller must not acknowledge the task as accepted.
var ErrQueueUnavailable = errors.New("async queue unavailable")

// Dispatcher assigns message IDs and enqueues tasks.
type Dispatcher struct {
	q         queue.Queue
	queueName string
}

// NewDispatcher creates a dispatcher over the given queue.
func NewDispatcher(q queue.Queue, queueName string) *Dispatcher {
	return &Dispatcher{q: q, queueName: queueName}
}

// QueueName reports the logical queue name for acknowledgments.
func (d *Dispatcher) QueueName() string { return d.queueName }

// Dispatch assigns a fresh message ID and durably enqueues the task.
// The returned envelope carries the ID the caller hands back to the
// user; it is only returned once the envelope is actually queued.
func (d *Dispatcher) Dispatch(ctx context.Context, req *a2a.TaskRequest) (*queue.Envelope, error) {
	userID := req.UserID
	if userID == "" {
		userID = a2a.AnonymousUser
	}

	env := &queue.Envelope{
		MessageID:  uuid.NewString(),
		Task:       req.Task,
		UserID:     userID,
		Context:    req.Context,
		Metadata:   req.Metadata,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := d.q.Enqueue(ctx, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.TasksDispatched.Inc()
	return env, nil
}
