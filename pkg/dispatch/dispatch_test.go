package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/queue"
	"github.com/agentwire/agentwire/pkg/respstore"
)

func TestDispatchAssignsMessageIDAndEnqueues(t *testing.T) {
	q := queue.NewMemory(8)
	defer q.Close()

	d := NewDispatcher(q, "agent-tasks")

	env, err := d.Dispatch(context.Background(), &a2a.TaskRequest{
		Task:   "summarize the report",
		UserID: "alice",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(env.MessageID)
	assert.NoError(t, err, "message ID must be a uuid")
	assert.Equal(t, "alice", env.UserID)
	assert.False(t, env.EnqueuedAt.IsZero())

	delivery, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, delivery.Envelope.MessageID)
	assert.Equal(t, "summarize the report", delivery.Envelope.Task)
}

func TestDispatchDefaultsAnonymousUser(t *testing.T) {
	q := queue.NewMemory(8)
	defer q.Close()

	env, err := NewDispatcher(q, "agent-tasks").Dispatch(context.Background(), &a2a.TaskRequest{Task: "t"})
	require.NoError(t, err)
	assert.Equal(t, a2a.AnonymousUser, env.UserID)
}

func TestDispatchQueueUnavailable(t *testing.T) {
	q := queue.NewMemory(1)
	defer q.Close()

	d := NewDispatcher(q, "agent-tasks")
	_, err := d.Dispatch(context.Background(), &a2a.TaskRequest{Task: "one"})
	require.NoError(t, err)

	// Buffer full: the dispatcher must refuse rather than pretend.
	_, err = d.Dispatch(context.Background(), &a2a.TaskRequest{Task: "two"})
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestDispatchUniqueMessageIDs(t *testing.T) {
	q := queue.NewMemory(64)
	defer q.Close()

	d := NewDispatcher(q, "agent-tasks")
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		env, err := d.Dispatch(context.Background(), &a2a.TaskRequest{Task: "t"})
		require.NoError(t, err)
		assert.False(t, seen[env.MessageID])
		seen[env.MessageID] = true
	}
}

func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestWorkerRoundTrip(t *testing.T) {
	q := queue.NewMemory(8)
	defer q.Close()
	store := respstore.NewMemory()

	runner := RunnerFunc(func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error) {
		return "answer to " + task, "echo-agent", nil
	})

	w := NewWorker(q, store, runner, nil, WorkerOptions{Count: 2})
	stop := runWorker(t, w)
	defer stop()

	env, err := NewDispatcher(q, "agent-tasks").Dispatch(context.Background(), &a2a.TaskRequest{
		Task:   "what is 2+2",
		UserID: "alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := store.Poll(context.Background(), "alice", 10)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := store.Poll(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, env.MessageID, recs[0].MessageID)
	assert.Equal(t, "answer to what is 2+2", recs[0].Response)
	assert.Equal(t, "echo-agent", recs[0].AgentUsed)
	assert.Equal(t, a2a.TaskStatusCompleted, recs[0].Status)
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	q := queue.NewMemory(8)
	defer q.Close()
	store := respstore.NewMemory()

	var attempts atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error) {
		attempts.Add(1)
		return "", "echo-agent", errors.New("backend down")
	})

	w := NewWorker(q, store, runner, nil, WorkerOptions{
		Count:          1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})
	stop := runWorker(t, w)
	defer stop()

	env, err := NewDispatcher(q, "agent-tasks").Dispatch(context.Background(), &a2a.TaskRequest{
		Task:   "doomed",
		UserID: "alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(q.DeadLetters()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), attempts.Load())

	recs, err := store.Poll(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, env.MessageID, recs[0].MessageID)
	assert.Equal(t, a2a.TaskStatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Response, "failed after 3 attempts")

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, env.MessageID, dead[0].Envelope.MessageID)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	q := queue.NewMemory(8)
	defer q.Close()

	w := NewWorker(q, respstore.NewMemory(), RunnerFunc(func(ctx context.Context, task, userID string, taskCtx map[string]interface{}) (string, string, error) {
		return "", "", nil
	}), nil, WorkerOptions{Count: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
