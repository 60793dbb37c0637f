package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type widgetResponse struct {
	Title       string   `json:"title"`
	Placeholder string   `json:"placeholder"`
	PromptLabel string   `json:"prompt_label"`
	Suggestions []string `json:"suggestions"`
}

// HandleWidget returns the static widget content.
func (h *Handler) HandleWidget(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, widgetResponse{
		Title:       h.content.Title,
		Placeholder: h.content.Placeholder,
		PromptLabel: h.content.PromptLabel,
		Suggestions: append([]string{}, h.content.Suggestions...),
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Archive  string `json:"archive"`
	Sessions int    `json:"sessions"`
}

// HandleHealth reports process health. A failing archive degrades the
// status to 503; the widget itself keeps working without it.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Provider: h.sessions.ProviderName(),
		Archive:  "disabled",
		Sessions: h.sessions.Len(),
	}
	status := http.StatusOK

	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			h.logger.Warn("archive health check failed", "error", err)
			resp.Status = "degraded"
			resp.Archive = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Archive = "ok"
		}
	}

	JSON(w, status, resp)
}
