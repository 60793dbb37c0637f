package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/helping-hand/internal/conversation"
	"github.com/ashureev/helping-hand/internal/identity"
	"github.com/ashureev/helping-hand/internal/session"
)

const (
	writeTimeout     = 10 * time.Second
	defaultReadLimit = 64 << 10
)

// Limiter throttles submits per visitor.
type Limiter interface {
	Allow(key string) bool
}

// clientFrame is a message from the widget.
type clientFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// serverFrame is a message to the widget.
type serverFrame struct {
	Type  string        `json:"type"`
	View  *session.View `json:"view,omitempty"`
	Error string        `json:"error,omitempty"`
}

// Options configures a Handler.
type Options struct {
	Sessions      *session.Manager
	Registry      *Registry
	Limiter       Limiter // nil disables throttling
	AllowedOrigin string
	IsDev         bool
	ReadLimit     int64
	Logger        *slog.Logger
}

// Handler serves /ws/sessions/{id}.
type Handler struct {
	sessions      *session.Manager
	registry      *Registry
	limiter       Limiter
	allowedOrigin string
	isDev         bool
	readLimit     int64
	logger        *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Handler{
		sessions:      opts.Sessions,
		registry:      registry,
		limiter:       opts.Limiter,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		readLimit:     readLimit,
		logger:        logger.With("component", "live"),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	logger := h.logger.With("visitor_id", visitorID, "session_id", sessionID)
	logger.Info("widget socket request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, current, err := h.sessions.Subscribe(ctx, visitorID, sessionID)
	if err != nil {
		logger.Warn("widget socket for unknown session", "error", err)
		_ = h.writeFrame(ws, serverFrame{Type: "error", Error: err.Error()})
		return
	}

	if h.registry.Register(visitorID, sessionID, ws) {
		logger.Info("widget socket replaced an older connection")
	}
	defer h.registry.Unregister(visitorID, sessionID, ws)

	if err := h.writeFrame(ws, serverFrame{Type: "view", View: &current}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		h.outputLoop(ctx, ws, views)
	}()

	h.inputLoop(ctx, ws, visitorID, sessionID, logger)
	cancel()
	<-done
	logger.Info("widget socket closed")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// inputLoop applies client frames until the socket or ctx closes.
func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, visitorID, sessionID string, logger *slog.Logger) {
	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.CloseStatus(err) != -1:
				logger.Debug("websocket closed by client")
			default:
				logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var err error
		switch frame.Type {
		case "input":
			_, err = h.sessions.UpdateInput(visitorID, sessionID, frame.Text)
		case "suggestion":
			if frame.Index == nil {
				err = errors.New("suggestion frame needs an index")
				break
			}
			_, err = h.sessions.SelectSuggestion(visitorID, sessionID, *frame.Index)
		case "submit":
			var allow func() bool
			if h.limiter != nil {
				allow = func() bool { return h.limiter.Allow(visitorID) }
			}
			_, err = h.sessions.Submit(visitorID, sessionID, allow)
		case "ping":
			err = h.writeFrame(ws, serverFrame{Type: "pong"})
			if err != nil {
				return
			}
		default:
			err = errors.New("unknown frame type")
		}

		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrClosed) {
				return
			}
			if !errors.Is(err, conversation.ErrInFlight) {
				logger.Debug("widget frame rejected", "type", frame.Type, "error", err)
			}
			if werr := h.writeFrame(ws, serverFrame{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

// outputLoop forwards views until the session ends or ctx is done.
func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, views <-chan session.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				_ = ws.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			if err := h.writeFrame(ws, serverFrame{Type: "view", View: &v}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeFrame(ws *websocket.Conn, f serverFrame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, f); err != nil {
		h.logger.Debug("websocket write error", "error", err, "type", f.Type)
		return err
	}
	return nil
}
