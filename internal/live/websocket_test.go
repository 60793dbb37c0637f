package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/helping-hand/internal/identity"
	"github.com/ashureev/helping-hand/internal/session"
)

const visitor = "anon_0123456789abcdef0123456789abcdef"

type echoProvider struct{}

func (echoProvider) Send(_ context.Context, message string) (string, error) {
	return "echo: " + message, nil
}

func (echoProvider) Name() string { return "echo" }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestServer(t *testing.T, mutate ...func(*Options)) (*httptest.Server, *session.Manager) {
	t.Helper()
	m := session.NewManager(session.Options{
		Suggestions: []string{"How can I borrow funds?"},
		Provider:    echoProvider{},
	})
	opts := Options{Sessions: m, IsDev: true}
	for _, fn := range mutate {
		fn(&opts)
	}
	h := NewHandler(opts)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	r.Get("/ws/sessions/{id}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		m.Close()
	})
	return srv, m
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + sessionID
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{identity.VisitorCookieName + "=" + visitor}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var f serverFrame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	return f
}

// readUntil skips frames until match returns true.
func readUntil(t *testing.T, ws *websocket.Conn, match func(serverFrame) bool) serverFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, ws); match(f) {
			return f
		}
	}
	t.Fatal("expected frame not received")
	return serverFrame{}
}

func send(t *testing.T, ws *websocket.Conn, f clientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, f))
}

func TestSocketConversation(t *testing.T) {
	srv, m := newTestServer(t)
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)

	first := readFrame(t, ws)
	require.Equal(t, "view", first.Type)
	require.NotNil(t, first.View)
	assert.Equal(t, start.SessionID, first.View.SessionID)

	send(t, ws, clientFrame{Type: "input", Text: "hello"})
	staged := readFrame(t, ws)
	assert.Equal(t, "hello", staged.View.PendingInput)

	send(t, ws, clientFrame{Type: "submit"})
	reply := readUntil(t, ws, func(f serverFrame) bool {
		return f.Type == "view" && !f.View.InFlight && len(f.View.Messages) == 3
	})
	assert.Equal(t, "echo: hello", reply.View.Messages[2].Text)

	send(t, ws, clientFrame{Type: "ping"})
	readUntil(t, ws, func(f serverFrame) bool { return f.Type == "pong" })
}

func TestSocketSuggestion(t *testing.T) {
	srv, m := newTestServer(t)
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)
	readFrame(t, ws)

	idx := 0
	send(t, ws, clientFrame{Type: "suggestion", Index: &idx})
	staged := readFrame(t, ws)
	assert.Equal(t, "How can I borrow funds?", staged.View.PendingInput)

	bad := 5
	send(t, ws, clientFrame{Type: "suggestion", Index: &bad})
	f := readFrame(t, ws)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "out of range")
}

func TestSocketRejectsUnknownFrame(t *testing.T) {
	srv, m := newTestServer(t)
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)
	readFrame(t, ws)

	send(t, ws, clientFrame{Type: "resize"})
	f := readFrame(t, ws)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "unknown frame type", f.Error)
}

func TestSocketSubmitRateLimited(t *testing.T) {
	srv, m := newTestServer(t, func(o *Options) { o.Limiter = denyAll{} })
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)
	readFrame(t, ws)

	send(t, ws, clientFrame{Type: "input", Text: "hello"})
	staged := readFrame(t, ws)
	require.NotNil(t, staged.View)
	assert.Equal(t, "hello", staged.View.PendingInput)

	send(t, ws, clientFrame{Type: "submit"})
	f := readFrame(t, ws)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "rate limit exceeded")

	view, err := m.Get(visitor, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "hello", view.PendingInput)
	assert.Len(t, view.Messages, 1)
}

func TestSocketReplacedBySecondConnection(t *testing.T) {
	reg := NewRegistry()
	srv, m := newTestServer(t, func(o *Options) { o.Registry = reg })
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	first := dial(t, srv, start.SessionID)
	readFrame(t, first)
	second := dial(t, srv, start.SessionID)
	readFrame(t, second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	send(t, second, clientFrame{Type: "input", Text: "still here"})
	f := readFrame(t, second)
	require.NotNil(t, f.View)
	assert.Equal(t, "still here", f.View.PendingInput)
	assert.Equal(t, 1, reg.Len())
}

func TestSocketEchoesInputInOrder(t *testing.T) {
	srv, m := newTestServer(t)
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)
	readFrame(t, ws)

	// Typing faster than views come back: each frame is echoed once, in order,
	// so the widget can tell its own echoes from server-side changes.
	typed := []string{"a", "ab", "abc"}
	for _, text := range typed {
		send(t, ws, clientFrame{Type: "input", Text: text})
	}
	for _, want := range typed {
		f := readFrame(t, ws)
		require.Equal(t, "view", f.Type)
		require.NotNil(t, f.View)
		assert.Equal(t, want, f.View.PendingInput)
	}

	view, err := m.Get(visitor, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "abc", view.PendingInput)
}

func TestSocketUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	ws := dial(t, srv, "missing")
	f := readFrame(t, ws)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "not found")
}

func TestSocketClosesWhenSessionEnds(t *testing.T) {
	srv, m := newTestServer(t)
	start, err := m.Start(context.Background(), visitor)
	require.NoError(t, err)

	ws := dial(t, srv, start.SessionID)
	readFrame(t, ws)

	require.NoError(t, m.End(visitor, start.SessionID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err = ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestSocketOriginCheck(t *testing.T) {
	h := NewHandler(Options{AllowedOrigin: "https://bank.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://bank.example")
	assert.True(t, h.checkOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, h.checkOrigin(req))
}
