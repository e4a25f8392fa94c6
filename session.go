package aster

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns an opaque hex-encoded 128-bit session identifier.
func NewSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SessionSummary is the listing view of a persisted session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// SessionStore persists conversations and usage records between turns.
// Operations are individually atomic; Save has write-wins semantics, and the
// single-turn-per-session rule keeps concurrent saves away.
type SessionStore interface {
	// Load returns the conversation, or an empty slice for unknown sessions.
	Load(ctx context.Context, sessionID string) ([]Message, error)
	// Save upserts the conversation.
	Save(ctx context.Context, sessionID string, conversation []Message) error
	// Reset deletes the conversation, keeping usage.
	Reset(ctx context.Context, sessionID string) error

	// LoadUsage returns the usage records, or an empty slice when absent.
	LoadUsage(ctx context.Context, sessionID string) ([]UsageRecord, error)
	// SaveUsage upserts the usage records.
	SaveUsage(ctx context.Context, sessionID string, records []UsageRecord) error

	// ListSessions returns summaries of every persisted session.
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	// DeleteSession removes the conversation and its usage.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}
