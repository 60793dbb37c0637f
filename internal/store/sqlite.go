package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/helping-hand/internal/domain"
	"github.com/ashureev/helping-hand/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer keeps archive ordering and avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		visitor_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_ended ON chat_sessions(ended_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS chat_messages (
		session_id TEXT NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		sender TEXT NOT NULL CHECK (sender IN ('user', 'bot')),
		text TEXT NOT NULL CHECK (length(text) > 0),
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession records the start of a hosted session.
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO chat_sessions (session_id, visitor_id, started_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	return s.execWithRetry(ctx, "create session", query,
		rec.ID, rec.VisitorID, rec.StartedAt.UnixMilli())
}

// AppendMessage records message number seq of a session.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, seq int, msg domain.Message, at time.Time) error {
	if !msg.Sender.Valid() {
		return fmt.Errorf("append message: invalid sender %q", msg.Sender)
	}
	if msg.Text == "" {
		return errors.New("append message: empty text")
	}

	query := `
	INSERT INTO chat_messages (session_id, seq, sender, text, created_at)
	VALUES (?, ?, ?, ?, ?)`

	return s.execWithRetry(ctx, "append message", query,
		sessionID, seq, string(msg.Sender), msg.Text, at.UnixMilli())
}

// EndSession marks a session as ended. Ending twice keeps the first time.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	query := `UPDATE chat_sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`
	return s.execWithRetry(ctx, "end session", query, endedAt.UnixMilli(), sessionID)
}

// GetSession returns a session record, or nil if unknown.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `SELECT session_id, visitor_id, started_at, ended_at FROM chat_sessions WHERE session_id = ?`

	var rec domain.SessionRecord
	var startedAt int64
	var endedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&rec.ID, &rec.VisitorID, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		ts := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &ts
	}
	return &rec, nil
}

// GetTranscript returns the archived messages of a session in order.
func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) ([]domain.ArchivedMessage, error) {
	query := `
		SELECT seq, sender, text, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	out := []domain.ArchivedMessage{}
	for rows.Next() {
		var m domain.ArchivedMessage
		var sender string
		var createdAt int64
		if err := rows.Scan(&m.Seq, &sender, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		m.Sender = domain.Sender(sender)
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return out, nil
}

// CleanupEndedSessions removes sessions that ended more than retention ago,
// together with their messages.
func (s *SQLiteStore) CleanupEndedSessions(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chat_messages WHERE session_id IN (
			SELECT session_id FROM chat_sessions WHERE ended_at IS NOT NULL AND ended_at < ?
		)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return deleted, nil
}

// execWithRetry runs a write, retrying with exponential backoff while SQLite
// reports the database as busy.
func (s *SQLiteStore) execWithRetry(ctx context.Context, op, query string, args ...any) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("archive write hit a locked database, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
