// Package snapshot persists workflow state to SQLite so interrupted
// workflows can be inspected and resumed.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"moodlist/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT PRIMARY KEY,
	updated_at TEXT NOT NULL,
	state      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON snapshots (updated_at);
`

// Store keeps the latest state snapshot per session.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the session's snapshot. Stale writes are ignored: a snapshot
// never moves updated_at backwards.
func (s *Store) Save(ctx context.Context, state *core.WorkflowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	updatedAt := state.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z")

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, updated_at, state)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			state = excluded.state
		WHERE excluded.updated_at >= snapshots.updated_at`,
		state.SessionID, updatedAt, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("Skipped stale snapshot write",
			zap.String("session", state.SessionID),
			zap.String("updated_at", updatedAt))
	}
	return nil
}

// Load returns the latest snapshot for the session, or nil when none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (*core.WorkflowState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var state core.WorkflowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &state, nil
}

// Sessions lists session IDs ordered by most recent activity.
func (s *Store) Sessions(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM snapshots ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
