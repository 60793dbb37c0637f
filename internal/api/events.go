package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/helping-hand/internal/identity"
	"github.com/ashureev/helping-hand/internal/session"
)

const sseRetryDelay = 5 * time.Second

// HandleEvents streams session views over Server-Sent Events.
//
// The current view is sent first, then one "view" event per state change.
// An "end" event is sent when the session ends, and "ping" keeps idle
// connections alive.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	views, current, err := h.sessions.Subscribe(r.Context(), visitorID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryDelay.Milliseconds()); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}

	var eventID int64
	send := func(v session.View) bool {
		eventID++
		if err := writeSSEView(w, eventID, v); err != nil {
			h.logger.Warn("failed to write SSE view", "error", err, "session_id", sessionID)
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(current) {
		return
	}

	h.logger.Info("event stream connected", "session_id", sessionID, "visitor_id", visitorID)
	defer h.logger.Info("event stream closed", "session_id", sessionID, "visitor_id", visitorID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case v, ok := <-views:
			if !ok {
				if err := writeSSE(w, "end", `{"status":"ended"}`); err == nil {
					flusher.Flush()
				}
				return
			}
			if !send(v) {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEView(w io.Writer, id int64, v session.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", id, data)
	return err
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
