package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewRedisFromClient(client, RedisConfig{
		Stream:     "test:tasks",
		Group:      "test-workers",
		Consumer:   "c1",
		Block:      100 * time.Millisecond,
		Visibility: time.Minute,
	})
	require.NoError(t, err)
	return q, mr
}

func TestRedisRoundTrip(t *testing.T) {
	q, _ := newTestRedisQueue(t)

	env := &Envelope{
		MessageID:  "m1",
		Task:       "translate this",
		UserID:     "u1",
		Context:    map[string]interface{}{"lang": "fr"},
		EnqueuedAt: time.Now().UTC(),
	}
	require.NoError(t, q.Enqueue(context.Background(), env))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", d.Envelope.MessageID)
	assert.Equal(t, "translate this", d.Envelope.Task)
	assert.Equal(t, "u1", d.Envelope.UserID)
	assert.Equal(t, "fr", d.Envelope.Context["lang"])

	require.NoError(t, d.Ack(ctx))
}

func TestRedisAckRemovesPending(t *testing.T) {
	q, _ := newTestRedisQueue(t)

	require.NoError(t, q.Enqueue(context.Background(), &Envelope{MessageID: "m1", Task: "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack(ctx))

	// Nothing left to read: the next dequeue should run out the clock.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer shortCancel()

	_, err = q.Dequeue(shortCtx)
	assert.Error(t, err)
}

func TestRedisUnackedIsReclaimed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := RedisConfig{
		Stream:     "test:tasks",
		Group:      "test-workers",
		Block:      100 * time.Millisecond,
		Visibility: 10 * time.Second,
	}

	cfg.Consumer = "crashed-worker"
	q1, err := NewRedisFromClient(client, cfg)
	require.NoError(t, err)

	require.NoError(t, q1.Enqueue(context.Background(), &Envelope{MessageID: "m1", Task: "t"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First worker reads but never acks.
	_, err = q1.Dequeue(ctx)
	require.NoError(t, err)

	// Delivery ages past the visibility window. FastForward only expires
	// TTLs in miniredis; SetTime is what moves the clock XAUTOCLAIM's
	// idle-time check reads.
	mr.SetTime(time.Now().Add(15 * time.Second))

	cfg.Consumer = "recovery-worker"
	q2, err := NewRedisFromClient(client, cfg)
	require.NoError(t, err)

	d, err := q2.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", d.Envelope.MessageID)
	require.NoError(t, d.Ack(ctx))
}

func TestRedisDeadLetter(t *testing.T) {
	q, mr := newTestRedisQueue(t)

	env := &Envelope{MessageID: "m1", Task: "t", Attempts: 3}
	require.NoError(t, q.DeadLetter(context.Background(), env, "retries exhausted"))

	entries, err := mr.Stream("test:tasks:dead")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
