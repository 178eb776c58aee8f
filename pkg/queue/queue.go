// Package queue provides the durable task queue behind the async
// dispatch path, with in-memory and Redis Streams backends.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps backend failures during enqueue: the caller
	// must not report the task as accepted.
	ErrUnavailable = errors.New("queue unavailable")

	// ErrClosed is returned once the queue has been shut down.
	ErrClosed = errors.New("queue closed")
)

// Envelope is one queued task. The MessageID correlates the eventual
// response record with the dispatch acknowledgment.
type Envelope struct {
	MessageID  string                 `json:"message_id"`
	Task       string                 `json:"task"`
	UserID     string                 `json:"user_id"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	Attempts   int                    `json:"attempts"`
}

// Delivery is one dequeued envelope plus its acknowledgment handle.
type Delivery struct {
	Envelope *Envelope

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack marks the delivery as fully processed.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack releases the delivery for redelivery to another consumer.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// Queue is a durable at-least-once task queue.
type Queue interface {
	// Enqueue durably stores the envelope before returning.
	Enqueue(ctx context.Context, env *Envelope) error

	// Dequeue blocks until an envelope is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)

	// DeadLetter parks an envelope that exhausted its retries.
	DeadLetter(ctx context.Context, env *Envelope, reason string) error

	Close() error
}
