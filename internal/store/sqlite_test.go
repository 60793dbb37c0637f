package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/helping-hand/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "archive", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSQLiteRejectsNonDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	garbage := bytes.Repeat([]byte("not a sqlite database "), 64)
	if err := os.WriteFile(path, garbage, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := NewSQLite(path)
	if err == nil {
		_ = s.Close()
		t.Fatal("Expected an error opening a non-database file")
	}
	if s != nil {
		t.Errorf("Expected nil store on error, got %v", s)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, garbage) {
		t.Error("Expected the file to be left untouched")
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	if err := s.CreateSession(ctx, &domain.SessionRecord{ID: "sess-1", VisitorID: "anon_1", StartedAt: now}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	msgs := []domain.Message{
		{Sender: domain.SenderBot, Text: "Hello! How can I help you today?"},
		{Sender: domain.SenderUser, Text: "How can I borrow funds?"},
		{Sender: domain.SenderBot, Text: "We can help."},
	}
	// Insert out of order; the transcript is ordered by seq.
	for _, i := range []int{2, 0, 1} {
		if err := s.AppendMessage(ctx, "sess-1", i, msgs[i], now); err != nil {
			t.Fatalf("AppendMessage(%d) failed: %v", i, err)
		}
	}

	got, err := s.GetTranscript(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i, m := range got {
		if m.Seq != i || m.Message != msgs[i] {
			t.Fatalf("message %d = %+v, want %+v", i, m, msgs[i])
		}
	}
}

func TestAppendMessageRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AppendMessage(ctx, "sess", 0, domain.Message{Sender: domain.SenderBot}, time.Now()); err == nil {
		t.Fatal("expected error for empty text")
	}
	if err := s.AppendMessage(ctx, "sess", 0, domain.Message{Sender: "system", Text: "x"}, time.Now()); err == nil {
		t.Fatal("expected error for unknown sender")
	}
}

func TestEndSessionKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Now().Add(-time.Hour)

	if err := s.CreateSession(ctx, &domain.SessionRecord{ID: "sess", VisitorID: "anon", StartedAt: start}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	first := start.Add(10 * time.Minute)
	if err := s.EndSession(ctx, "sess", first); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := s.EndSession(ctx, "sess", first.Add(time.Minute)); err != nil {
		t.Fatalf("second EndSession failed: %v", err)
	}

	rec, err := s.GetSession(ctx, "sess")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec == nil || !rec.Ended() {
		t.Fatalf("expected ended session, got %+v", rec)
	}
	if rec.EndedAt.UnixMilli() != first.UnixMilli() {
		t.Fatalf("expected first end time to win, got %v", rec.EndedAt)
	}
	if d := rec.Duration(time.Now()); d != 10*time.Minute {
		t.Fatalf("unexpected duration %s", d)
	}
}

func TestGetSessionUnknown(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestCleanupEndedSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	for _, id := range []string{"old", "recent", "open"} {
		if err := s.CreateSession(ctx, &domain.SessionRecord{ID: id, VisitorID: "anon", StartedAt: now.Add(-48 * time.Hour)}); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", id, err)
		}
		if err := s.AppendMessage(ctx, id, 0, domain.Message{Sender: domain.SenderBot, Text: "hi"}, now); err != nil {
			t.Fatalf("AppendMessage(%s) failed: %v", id, err)
		}
	}
	if err := s.EndSession(ctx, "old", now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := s.EndSession(ctx, "recent", now.Add(-time.Hour)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	deleted, err := s.CleanupEndedSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupEndedSessions failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}

	if rec, _ := s.GetSession(ctx, "old"); rec != nil {
		t.Fatal("expected old session to be removed")
	}
	if msgs, _ := s.GetTranscript(ctx, "old"); len(msgs) != 0 {
		t.Fatalf("expected old transcript to be removed, got %d messages", len(msgs))
	}
	for _, id := range []string{"recent", "open"} {
		if rec, _ := s.GetSession(ctx, id); rec == nil {
			t.Fatalf("expected %s to survive", id)
		}
	}
}
