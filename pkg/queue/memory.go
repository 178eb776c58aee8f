package queue

import (
	"context"
	"sync"
)

// Memory is a process-local queue for tests and single-node setups.
// Durability extends only to the process lifetime.
type Memory struct {
	ch chan *Envelope

	mu     sync.Mutex
	dead   []*DeadEnvelope
	closed bool
}

// DeadEnvelope is a dead-lettered envelope with the terminal reason.
type DeadEnvelope struct {
	Envelope *Envelope
	Reason   string
}

var _ Queue = (*Memory)(nil)

// NewMemory creates a memory queue holding up to bufferSize envelopes.
func NewMemory(bufferSize int) *Memory {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Memory{ch: make(chan *Envelope, bufferSize)}
}

func (m *Memory) Enqueue(ctx context.Context, env *Envelope) error {
	// The send stays under the lock so Close cannot close the channel
	// between the closed check and the send. It never blocks, so the
	// lock is held only briefly.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	// A full buffer rejects rather than blocks: the caller must know
	// the task was not accepted.
	select {
	case m.ch <- env:
		return nil
	default:
		return ErrUnavailable
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case env, ok := <-m.ch:
		if !ok {
			return nil, ErrClosed
		}
		return &Delivery{
			Envelope: env,
			nack: func(ctx context.Context) error {
				return m.Enqueue(ctx, env)
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) DeadLetter(ctx context.Context, env *Envelope, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, &DeadEnvelope{Envelope: env, Reason: reason})
	return nil
}

// DeadLetters returns a snapshot of the dead-lettered envelopes.
func (m *Memory) DeadLetters() []*DeadEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DeadEnvelope, len(m.dead))
	copy(out, m.dead)
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}
