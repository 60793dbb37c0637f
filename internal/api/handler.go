// Package api provides HTTP handlers for the widget API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/helping-hand/internal/config"
	"github.com/ashureev/helping-hand/internal/metrics"
	"github.com/ashureev/helping-hand/internal/session"
	"github.com/ashureev/helping-hand/internal/store"
)

const (
	defaultKeepaliveInterval = 10 * time.Second
	defaultMaxBodySize       = 1 << 20
)

// Options configures a Handler.
type Options struct {
	Sessions  *session.Manager
	Content   config.Content
	Repo      store.Repository // nil when the archive is disabled
	Metrics   *metrics.Metrics
	RateLimit config.RateLimitConfig
	// Limiter is shared with other transports; nil builds one from RateLimit.
	Limiter *RateLimiter
	SSE     config.SSEConfig
	Logger  *slog.Logger
}

// Handler serves the widget REST and SSE endpoints.
type Handler struct {
	sessions    *session.Manager
	content     config.Content
	repo        store.Repository
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	ownsLimiter bool
	keepalive   time.Duration
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepalive := opts.SSE.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	maxBody := opts.SSE.MaxRequestBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	limiter, owns := opts.Limiter, false
	if limiter == nil {
		limiter, owns = NewRateLimiter(opts.RateLimit.RequestsPerWindow, opts.RateLimit.WindowDuration), true
	}

	return &Handler{
		sessions:    opts.Sessions,
		content:     opts.Content,
		repo:        opts.Repo,
		metrics:     opts.Metrics,
		rateLimiter: limiter,
		ownsLimiter: owns,
		keepalive:   keepalive,
		maxBodySize: maxBody,
		logger:      logger.With("component", "api"),
	}
}

// RegisterRoutes registers the widget API on r. The visitor identity
// middleware must already be installed.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/widget", h.HandleWidget)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Delete("/", h.HandleEnd)
			r.Put("/input", h.HandleInput)
			r.Post("/suggestions/{index}", h.HandleSuggestion)
			r.Post("/submit", h.HandleSubmit)
			r.Get("/events", h.HandleEvents)
			r.Get("/transcript", h.HandleTranscript)
		})
	})
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	if h.ownsLimiter {
		h.rateLimiter.Stop()
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an errdefs error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsConflict(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict
	case errdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsNotImplemented(err):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status of its class. Unclassified errors are
// logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON decodes a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", errdefs.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: invalid request body", errdefs.ErrInvalidArgument)
	}
	return nil
}
