// Package respstore persists async task responses until users poll and
// acknowledge them.
package respstore

import (
	"context"

	"github.com/agentwire/agentwire/pkg/a2a"
)

// Store holds completed async responses for later retrieval.
//
// Save is an idempotent upsert keyed by message ID: the first write
// wins, so a retried worker cannot duplicate or overwrite a result.
// Poll is non-destructive; records stay visible until acknowledged.
type Store interface {
	Save(ctx context.Context, rec *a2a.ResponseRecord) error

	// Poll returns up to max unacknowledged records for the user,
	// oldest first. The filter a2a.UserFilterAll matches every user.
	// No matches yields an empty slice, not an error.
	Poll(ctx context.Context, userFilter string, max int) ([]*a2a.ResponseRecord, error)

	// Ack hides the given records from future polls. Unknown IDs are
	// ignored.
	Ack(ctx context.Context, messageIDs ...string) error

	Close() error
}

// DefaultPollLimit is used when a poll asks for zero or negative max.
const DefaultPollLimit = 10
