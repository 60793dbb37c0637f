package domain

import "time"

// SessionRecord describes one hosted widget session in the transcript archive.
type SessionRecord struct {
	ID        string     `json:"session_id"`
	VisitorID string     `json:"visitor_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Ended returns true once the session has been closed.
func (r *SessionRecord) Ended() bool {
	return r.EndedAt != nil
}

// Duration returns how long the session lasted, or has lasted so far.
func (r *SessionRecord) Duration(now time.Time) time.Duration {
	end := now
	if r.EndedAt != nil {
		end = *r.EndedAt
	}
	if end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}
