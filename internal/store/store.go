// Package store provides the transcript archive.
//
// The archive is an audit trail: hosted sessions write to it but are never
// rebuilt from it.
package store

import (
	"context"
	"time"

	"github.com/ashureev/helping-hand/internal/domain"
)

// Repository defines the interface for archiving widget transcripts.
type Repository interface {
	// CreateSession records the start of a hosted session.
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error

	// AppendMessage records message number seq of a session.
	AppendMessage(ctx context.Context, sessionID string, seq int, msg domain.Message, at time.Time) error

	// EndSession marks a session as ended.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// GetSession returns a session record, or nil if unknown.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// GetTranscript returns the archived messages of a session in order.
	GetTranscript(ctx context.Context, sessionID string) ([]domain.ArchivedMessage, error)

	// CleanupEndedSessions removes sessions that ended more than retention ago.
	CleanupEndedSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
