package session

import (
	"context"
	"time"
)

// Sweep ends sessions idle for longer than idleTTL that have no live
// subscribers, which is how a widget that went away without ending its
// session looks from here. It returns the number of sessions ended.
func (m *Manager) Sweep(ctx context.Context, idleTTL time.Duration) int {
	cutoff := m.now().Add(-idleTTL)

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	// Session locks are never taken while holding m.mu.
	var expired []*Session
	for _, s := range candidates {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if !idle || m.broadcaster.Subscribers(s.id) > 0 {
			continue
		}

		m.mu.Lock()
		if m.sessions[s.id] == s {
			delete(m.sessions, s.id)
			expired = append(expired, s)
		}
		m.mu.Unlock()
	}

	for _, s := range expired {
		m.endSession(s, EndReasonIdle)
	}
	if len(expired) > 0 {
		m.logger.InfoContext(ctx, "idle sessions swept", "count", len(expired), "ttl", idleTTL)
	}

	m.cleanupArchive(ctx)
	return len(expired)
}

func (m *Manager) cleanupArchive(ctx context.Context) {
	if m.repo == nil || m.retention <= 0 {
		return
	}
	deleted, err := m.repo.CleanupEndedSessions(ctx, m.retention)
	if err != nil {
		m.logger.Error("failed to clean up archived transcripts", "error", err)
		return
	}
	if deleted > 0 {
		m.logger.Info("archived transcripts cleaned up", "count", deleted, "retention", m.retention)
	}
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval, idleTTL time.Duration) {
	if interval <= 0 || idleTTL <= 0 {
		m.logger.Info("session sweeper disabled", "interval", interval, "ttl", idleTTL)
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("session sweeper started", "interval", interval, "ttl", idleTTL)

		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx, idleTTL)
			case <-ctx.Done():
				m.logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
