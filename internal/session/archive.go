package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/helping-hand/internal/domain"
	"github.com/ashureev/helping-hand/internal/metrics"
	"github.com/ashureev/helping-hand/internal/store"
)

const (
	defaultArchiveQueueSize = 256
	archiveWriteTimeout     = 5 * time.Second
)

type archiveOp int

const (
	archiveCreate archiveOp = iota
	archiveMessage
	archiveEnd
)

type archiveEntry struct {
	op        archiveOp
	sessionID string
	visitorID string
	seq       int
	msg       domain.Message
	at        time.Time
}

// archiver writes transcript entries to the repository from a single
// goroutine, so entries of one session land in the order they were queued.
// A nil *archiver discards everything.
type archiver struct {
	repo    store.Repository
	queue   chan archiveEntry
	done    chan struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
}

func newArchiver(repo store.Repository, size int, logger *slog.Logger, m *metrics.Metrics) *archiver {
	if repo == nil {
		return nil
	}
	if size <= 0 {
		size = defaultArchiveQueueSize
	}
	a := &archiver{
		repo:    repo,
		queue:   make(chan archiveEntry, size),
		done:    make(chan struct{}),
		logger:  logger.With("component", "archive"),
		metrics: m,
	}
	go a.run()
	return a
}

// enqueue never blocks; a full queue drops the entry.
func (a *archiver) enqueue(e archiveEntry) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- e:
	default:
		a.logger.Warn("archive queue full, dropping entry",
			"session_id", e.sessionID,
			"seq", e.seq)
		a.metrics.ArchiveDrop()
	}
}

func (a *archiver) run() {
	defer close(a.done)
	for e := range a.queue {
		a.write(e)
	}
}

func (a *archiver) write(e archiveEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()

	var err error
	switch e.op {
	case archiveCreate:
		err = a.repo.CreateSession(ctx, &domain.SessionRecord{
			ID:        e.sessionID,
			VisitorID: e.visitorID,
			StartedAt: e.at,
		})
	case archiveMessage:
		err = a.repo.AppendMessage(ctx, e.sessionID, e.seq, e.msg, e.at)
	case archiveEnd:
		err = a.repo.EndSession(ctx, e.sessionID, e.at)
	}
	if err != nil {
		a.logger.Error("failed to archive transcript entry",
			"error", err,
			"session_id", e.sessionID,
			"seq", e.seq)
	}
}

// close drains the queue and waits for the writer to finish.
func (a *archiver) close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
}
