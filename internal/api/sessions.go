package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/helping-hand/internal/conversation"
	"github.com/ashureev/helping-hand/internal/domain"
	"github.com/ashureev/helping-hand/internal/identity"
)

type inputRequest struct {
	Text string `json:"text"`
}

type transcriptResponse struct {
	SessionID string                   `json:"session_id"`
	Messages  []domain.ArchivedMessage `json:"messages"`
}

// HandleStart starts a session for the calling visitor.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Start(r.Context(), identity.VisitorIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, view)
}

// HandleGet returns the current view of a session.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Get(identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// HandleInput stages the text of the input box.
func (h *Handler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.sessions.UpdateInput(identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// HandleSuggestion stages a prompt suggestion by index.
func (h *Handler) HandleSuggestion(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "suggestion index must be an integer")
		return
	}

	view, err := h.sessions.SelectSuggestion(identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "id"), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// HandleSubmit sends the staged input. The reply arrives on the event stream.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	res, err := h.sessions.Submit(visitorID, chi.URLParam(r, "id"), func() bool {
		return h.rateLimiter.Allow(visitorID)
	})
	if errors.Is(err, conversation.ErrInFlight) {
		JSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"view":  res.View,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, res)
}

// HandleEnd ends a session.
func (h *Handler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTranscript returns the archived transcript of a session.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.sessions.Transcript(r.Context(), identity.VisitorIDFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, transcriptResponse{SessionID: id, Messages: msgs})
}
