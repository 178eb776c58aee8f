package respstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/pkg/a2a"
)

// runStoreTests exercises the Store contract against a backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	record := func(id, user string, offset time.Duration) *a2a.ResponseRecord {
		return &a2a.ResponseRecord{
			MessageID: id,
			UserID:    user,
			AgentUsed: "echo-agent",
			Response:  "result for " + id,
			Status:    a2a.TaskStatusCompleted,
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(offset),
		}
	}

	t.Run("poll unknown user is empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Poll(ctx, "nonexistent-user", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("save then poll by user", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("m1", "alice", 0)))
		require.NoError(t, s.Save(ctx, record("m2", "bob", time.Second)))

		got, err := s.Poll(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "m1", got[0].MessageID)
		assert.Equal(t, "echo-agent", got[0].AgentUsed)
		assert.Equal(t, a2a.TaskStatusCompleted, got[0].Status)
	})

	t.Run("poll all matches every user", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("m1", "alice", 0)))
		require.NoError(t, s.Save(ctx, record("m2", "bob", time.Second)))

		got, err := s.Poll(ctx, a2a.UserFilterAll, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("poll is ordered and bounded", func(t *testing.T) {
		s := newStore(t)
		for i := 5; i >= 1; i-- {
			id := fmt.Sprintf("m%d", i)
			require.NoError(t, s.Save(ctx, record(id, "alice", time.Duration(i)*time.Second)))
		}

		got, err := s.Poll(ctx, "alice", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "m1", got[0].MessageID)
		assert.Equal(t, "m2", got[1].MessageID)
		assert.Equal(t, "m3", got[2].MessageID)
	})

	t.Run("poll is non-destructive until ack", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("m1", "alice", 0)))

		first, err := s.Poll(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, first, 1)

		second, err := s.Poll(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, second, 1, "unacked records must stay visible")

		require.NoError(t, s.Ack(ctx, "m1"))

		third, err := s.Poll(ctx, "alice", 10)
		require.NoError(t, err)
		assert.Empty(t, third)
	})

	t.Run("save is idempotent by message id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, record("m1", "alice", 0)))

		dup := record("m1", "alice", 0)
		dup.Response = "a different result"
		require.NoError(t, s.Save(ctx, dup))

		got, err := s.Poll(ctx, "alice", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "result for m1", got[0].Response, "first write wins")
	})

	t.Run("ack unknown id is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ack(ctx, "never-seen"))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLStoreSqlite(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		dsn := filepath.Join(t.TempDir(), "responses.db")
		db, err := OpenDB("sqlite", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		store, err := NewSQLStore(db, "sqlite")
		require.NoError(t, err)
		return store
	})
}

func TestNewSQLStoreRejectsUnknownDialect(t *testing.T) {
	db := &sql.DB{}
	_, err := NewSQLStore(db, "oracle")
	assert.Error(t, err)
}

func TestConvertToPostgresPlaceholders(t *testing.T) {
	got := convertToPostgresPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", got)
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSNWithParseTime("user:pw@tcp(localhost:3306)/agentwire")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	// An explicit parseTime=false would break created_at scans.
	dsn, err = mysqlDSNWithParseTime("user:pw@tcp(localhost:3306)/agentwire?parseTime=false")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.NotContains(t, dsn, "parseTime=false")

	_, err = mysqlDSNWithParseTime("not a dsn")
	assert.Error(t, err)
}
