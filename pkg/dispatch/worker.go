package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/metrics"
	"github.com/agentwire/agentwire/pkg/queue"
	"github.com/agentwire/agentwire/pkg/respstore"
)

// Runner executes one dequeued task and names the agent that handled
// it. The orchestrator wires in its routing logic here; tests use a
// RunnerFunc.
type Runner interface {
	Run(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (result, agentUsed string, err error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error)

func (f RunnerFunc) Run(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error) {
	return f(ctx, task, userID, taskCtx)
}

// WorkerOptions tunes the async worker pool.
type WorkerOptions struct {
	Count          int           // concurrent workers, default 4
	MaxAttempts    int           // attempts per task before dead-letter, default 3
	InitialBackoff time.Duration // first retry delay, doubled per attempt, default 200ms
	MaxBackoff     time.Duration // retry delay ceiling, default 10s
}

// Worker drains the queue, runs each task, and writes exactly one
// response record per message ID. Failed tasks are retried with
// exponential backoff; after MaxAttempts the failure is recorded as a
// failed response and the envelope is dead-lettered. Tasks are never
// silently dropped.
type Worker struct {
	q      queue.Queue
	store  respstore.Store
	runner Runner
	logger *slog.Logger
	opts   WorkerOptions
}

// NewWorker creates a worker pool (not yet running).
func NewWorker(q queue.Queue, store respstore.Store, runner Runner, logger *slog.Logger, opts WorkerOptions) *Worker {
	if opts.Count <= 0 {
		opts.Count = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{q: q, store: store, runner: runner, logger: logger, opts: opts}
}

// Run blocks until ctx is cancelled, then waits for in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.opts.Count; i++ {
		worker := i
		g.Go(func() error {
			return w.loop(ctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, worker int) error {
	log := w.logger.With("worker", worker)

	for {
		delivery, err := w.q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			log.Warn("dequeue failed", "error", err)
			continue
		}

		w.handle(ctx, log, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, log *slog.Logger, delivery *queue.Delivery) {
	env := delivery.Envelope
	log = log.With("message_id", env.MessageID, "user_id", env.UserID)

	result, agentUsed, err := w.runner.Run(ctx, env.Task, env.UserID, env.Context)
	if err == nil {
		if saveErr := w.saveRecord(ctx, env, result, agentUsed, a2a.TaskStatusCompleted); saveErr != nil {
			// Leave the delivery unacked so the task is redelivered;
			// the idempotent save keeps a retry from duplicating.
			log.Error("failed to save response, releasing for redelivery", "error", saveErr)
			_ = delivery.Nack(ctx)
			return
		}
		metrics.WorkerOutcomes.WithLabelValues("completed").Inc()
		_ = delivery.Ack(ctx)
		return
	}

	env.Attempts++
	log = log.With("attempt", env.Attempts, "error", err)

	if env.Attempts < w.opts.MaxAttempts {
		metrics.WorkerRetries.Inc()
		log.Warn("task failed, scheduling retry")

		w.sleep(ctx, w.backoff(env.Attempts))

		// Requeue a fresh copy carrying the attempt count, then ack
		// the original so both backends see one live instance.
		if reqErr := w.q.Enqueue(ctx, env); reqErr != nil {
			log.Error("failed to requeue, releasing for redelivery", "error", reqErr)
			_ = delivery.Nack(ctx)
			return
		}
		_ = delivery.Ack(ctx)
		return
	}

	log.Error("task failed permanently")
	metrics.WorkerOutcomes.WithLabelValues("failed").Inc()

	failure := fmt.Sprintf("Task execution failed after %d attempts: %v", env.Attempts, err)
	if saveErr := w.saveRecord(ctx, env, failure, agentUsed, a2a.TaskStatusFailed); saveErr != nil {
		log.Error("failed to save failure record, releasing for redelivery", "error", saveErr)
		_ = delivery.Nack(ctx)
		return
	}

	if dlErr := w.q.DeadLetter(ctx, env, err.Error()); dlErr != nil {
		log.Error("failed to dead-letter envelope", "error", dlErr)
	} else {
		metrics.WorkerOutcomes.WithLabelValues("dead_letter").Inc()
	}
	_ = delivery.Ack(ctx)
}

func (w *Worker) saveRecord(ctx context.Context, env *queue.Envelope, response, agentUsed string, status a2a.TaskStatus) error {
	if agentUsed == "" {
		agentUsed = "none"
	}
	return w.store.Save(ctx, &a2a.ResponseRecord{
		MessageID: env.MessageID,
		UserID:    env.UserID,
		AgentUsed: agentUsed,
		Response:  response,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.opts.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.opts.MaxBackoff {
			return w.opts.MaxBackoff
		}
	}
	return d
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
