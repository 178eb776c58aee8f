package respstore

import (
	"context"
	"sort"
	"sync"

	"github.com/agentwire/agentwire/pkg/a2a"
)

// Memory is a process-local store for tests and single-node setups.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*a2a.ResponseRecord
	acked   map[string]bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*a2a.ResponseRecord),
		acked:   make(map[string]bool),
	}
}

func (m *Memory) Save(ctx context.Context, rec *a2a.ResponseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.MessageID]; exists {
		return nil
	}
	clone := *rec
	m.records[rec.MessageID] = &clone
	return nil
}

func (m *Memory) Poll(ctx context.Context, userFilter string, max int) ([]*a2a.ResponseRecord, error) {
	if max <= 0 {
		max = DefaultPollLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*a2a.ResponseRecord, 0)
	for id, rec := range m.records {
		if m.acked[id] {
			continue
		}
		if userFilter != a2a.UserFilterAll && rec.UserID != userFilter {
			continue
		}
		clone := *rec
		matched = append(matched, &clone)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if len(matched) > max {
		matched = matched[:max]
	}
	return matched, nil
}

func (m *Memory) Ack(ctx context.Context, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range messageIDs {
		if _, exists := m.records[id]; exists {
			m.acked[id] = true
		}
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
