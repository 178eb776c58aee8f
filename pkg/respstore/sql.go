package respstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentwire/agentwire/pkg/a2a"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const createResponsesTableSQL = `
CREATE TABLE IF NOT EXISTS agent_responses (
    message_id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    agent_used VARCHAR(255) NOT NULL,
    response TEXT NOT NULL,
    status VARCHAR(32) NOT NULL,
    acked BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
)`

const createResponsesUserIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_agent_responses_user_id ON agent_responses(user_id)`

// SQLStore implements Store on a relational database.
// Supported dialects: postgres, mysql, sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// OpenDB opens a database connection for the given dialect and DSN.
func OpenDB(dialect, dsn string) (*sql.DB, error) {
	var driver string
	switch dialect {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres":
		driver = "postgres"
	case "mysql":
		driver = "mysql"
		normalized, err := mysqlDSNWithParseTime(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return db, nil
}

// mysqlDSNWithParseTime forces parseTime on the connection so
// created_at scans into time.Time instead of failing at runtime.
func mysqlDSNWithParseTime(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// NewSQLStore builds a store over an existing connection.
// The db connection should be shared with other services using the same
// database to avoid SQLite "database is locked" errors.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createResponsesTableSQL); err != nil {
		return fmt.Errorf("failed to create agent_responses table: %w", err)
	}
	if s.dialect != "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; the PK plus user_id
		// scans are acceptable there.
		if _, err := s.db.ExecContext(ctx, createResponsesUserIndexSQL); err != nil {
			return fmt.Errorf("failed to create user_id index: %w", err)
		}
	}
	return nil
}

// Save inserts the record unless one already exists for the message ID.
// First write wins, which makes worker retries idempotent.
func (s *SQLStore) Save(ctx context.Context, rec *a2a.ResponseRecord) error {
	if rec == nil || rec.MessageID == "" {
		return fmt.Errorf("record with message_id is required")
	}

	var query string
	switch s.dialect {
	case "mysql":
		query = `
INSERT IGNORE INTO agent_responses (message_id, user_id, agent_used, response, status, acked, created_at)
VALUES (?, ?, ?, ?, ?, FALSE, ?)`
	default: // postgres, sqlite
		query = `
INSERT INTO agent_responses (message_id, user_id, agent_used, response, status, acked, created_at)
VALUES (?, ?, ?, ?, ?, FALSE, ?)
ON CONFLICT (message_id) DO NOTHING`
	}

	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.MessageID, rec.UserID, rec.AgentUsed, rec.Response, string(rec.Status), rec.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to save response %s: %w", rec.MessageID, err)
	}
	return nil
}

func (s *SQLStore) Poll(ctx context.Context, userFilter string, max int) ([]*a2a.ResponseRecord, error) {
	if max <= 0 {
		max = DefaultPollLimit
	}

	query := `
SELECT message_id, user_id, agent_used, response, status, created_at
FROM agent_responses
WHERE acked = FALSE`
	args := []interface{}{}

	if userFilter != a2a.UserFilterAll {
		query += ` AND user_id = ?`
		args = append(args, userFilter)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, max)

	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to poll responses: %w", err)
	}
	defer rows.Close()

	records := make([]*a2a.ResponseRecord, 0)
	for rows.Next() {
		var rec a2a.ResponseRecord
		var status string
		if err := rows.Scan(&rec.MessageID, &rec.UserID, &rec.AgentUsed, &rec.Response, &status, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		rec.Status = a2a.TaskStatus(status)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) Ack(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(messageIDs)), ", ")
	query := fmt.Sprintf(`UPDATE agent_responses SET acked = TRUE WHERE message_id IN (%s)`, placeholders)

	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to ack responses: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// convertToPostgresPlaceholders converts ? to $1, $2, etc. in a single pass.
func convertToPostgresPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", paramNum)
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}
