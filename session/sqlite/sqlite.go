// Package sqlite implements aster.SessionStore on pure-Go SQLite.
// Conversations and usage records are stored as UTF-8 JSON blobs, one row per
// session, so the schema survives content-model additions without migration.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	aster "github.com/corven/aster"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements aster.SessionStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ aster.SessionStore = (*Store)(nil)

// New opens a store at dbPath. A single shared connection serializes all
// goroutines through one writer, eliminating SQLITE_BUSY errors from
// concurrent connections.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger()}
	for _, o := range opts {
		o(s)
	}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite: session store opened", "path", dbPath)
	return s, nil
}

func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func (s *Store) init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS usage (
			session_id TEXT PRIMARY KEY,
			usage_data TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	return nil
}

// Load returns the conversation for a session, or an empty slice when the
// session is unknown.
func (s *Store) Load(ctx context.Context, sessionID string) ([]aster.Message, error) {
	start := time.Now()
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation FROM sessions WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return []aster.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load session: %w", err)
	}

	var conversation []aster.Message
	if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
		return nil, fmt.Errorf("sqlite: decode conversation: %w", err)
	}
	s.logger.Debug("sqlite: session loaded",
		"session_id", sessionID, "messages", len(conversation), "took", time.Since(start))
	return conversation, nil
}

// Save upserts the conversation, bumping updated_at on replace. A defensive
// copy is taken by serialization, so later mutation of the slice cannot alias
// persisted state.
func (s *Store) Save(ctx context.Context, sessionID string, conversation []aster.Message) error {
	serialized, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("sqlite: encode conversation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, conversation)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			conversation = excluded.conversation,
			updated_at = datetime('now')`,
		sessionID, string(serialized))
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	s.logger.Debug("sqlite: session saved", "session_id", sessionID, "messages", len(conversation))
	return nil
}

// Reset deletes the conversation for a session.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: reset session: %w", err)
	}
	s.logger.Debug("sqlite: session reset", "session_id", sessionID)
	return nil
}

// LoadUsage returns the usage records for a session, or an empty slice.
func (s *Store) LoadUsage(ctx context.Context, sessionID string) ([]aster.UsageRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT usage_data FROM usage WHERE session_id = ?`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return []aster.UsageRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load usage: %w", err)
	}

	var records []aster.UsageRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("sqlite: decode usage: %w", err)
	}
	s.logger.Debug("sqlite: usage loaded", "session_id", sessionID, "records", len(records))
	return records, nil
}

// SaveUsage upserts the usage records for a session.
func (s *Store) SaveUsage(ctx context.Context, sessionID string, records []aster.UsageRecord) error {
	serialized, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("sqlite: encode usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage (session_id, usage_data)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			usage_data = excluded.usage_data,
			updated_at = datetime('now')`,
		sessionID, string(serialized))
	if err != nil {
		return fmt.Errorf("sqlite: save usage: %w", err)
	}
	s.logger.Debug("sqlite: usage saved", "session_id", sessionID, "records", len(records))
	return nil
}

// ListSessions returns summaries of all persisted sessions.
func (s *Store) ListSessions(ctx context.Context) ([]aster.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, conversation, created_at, updated_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []aster.SessionSummary
	for rows.Next() {
		var id, raw, createdAt, updatedAt string
		if err := rows.Scan(&id, &raw, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: list sessions: %w", err)
		}
		var conversation []aster.Message
		if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
			return nil, fmt.Errorf("sqlite: decode conversation: %w", err)
		}
		sessions = append(sessions, aster.SessionSummary{
			SessionID:    id,
			CreatedAt:    parseStoredTime(createdAt),
			UpdatedAt:    parseStoredTime(updatedAt),
			MessageCount: len(conversation),
		})
	}
	return sessions, rows.Err()
}

// DeleteSession removes the conversation and its usage.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM usage WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete usage: %w", err)
	}
	s.logger.Debug("sqlite: session deleted", "session_id", sessionID)
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: session store closed")
	return s.db.Close()
}

// parseStoredTime parses SQLite's datetime('now') format.
func parseStoredTime(v string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
