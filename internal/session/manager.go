// Package session hosts widget conversations on the server.
//
// Each Session wraps one conversation.State behind a mutex. The Manager runs
// the controller's SendEffect on its own goroutine, feeds the outcome back
// through conversation.ResolveSend and publishes every new View to the
// session's subscribers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/ashureev/helping-hand/internal/conversation"
	"github.com/ashureev/helping-hand/internal/domain"
	"github.com/ashureev/helping-hand/internal/metrics"
	"github.com/ashureev/helping-hand/internal/provider"
	"github.com/ashureev/helping-hand/internal/store"
)

// Reasons a session leaves the manager.
const (
	EndReasonClosed   = "closed"
	EndReasonIdle     = "idle"
	EndReasonShutdown = "shutdown"
)

var (
	// ErrNotFound is returned for unknown sessions and for sessions owned by
	// another visitor.
	ErrNotFound = fmt.Errorf("%w: session not found", errdefs.ErrNotFound)
	// ErrSuggestionOutOfRange is returned by SelectSuggestion for a bad index.
	ErrSuggestionOutOfRange = fmt.Errorf("%w: suggestion index out of range", errdefs.ErrInvalidArgument)
	// ErrNoVisitor is returned by Start without a visitor ID.
	ErrNoVisitor = fmt.Errorf("%w: visitor id is required", errdefs.ErrInvalidArgument)
	// ErrClosed is returned once the manager is shutting down.
	ErrClosed = fmt.Errorf("%w: session manager is closed", errdefs.ErrUnavailable)
	// ErrRateLimited is returned by Submit when the caller's quota refuses a send.
	ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", errdefs.ErrResourceExhausted)
)

// View is what a presentation layer renders for one session.
type View struct {
	SessionID    string           `json:"session_id"`
	Messages     []domain.Message `json:"messages"`
	PendingInput string           `json:"pending_input"`
	InFlight     bool             `json:"in_flight"`
	Suggestions  []string         `json:"suggestions"`
}

// SubmitResult reports whether Submit dispatched a message.
type SubmitResult struct {
	Sent bool `json:"sent"`
	View View `json:"view"`
}

// Options configures a Manager.
type Options struct {
	Greeting    string
	Suggestions []string
	Provider    provider.Provider

	// Repo receives the transcript; nil disables archiving.
	Repo             store.Repository
	ArchiveQueueSize int
	ArchiveRetention time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Session is one hosted conversation.
type Session struct {
	id        string
	visitorID string

	mu         sync.Mutex
	state      conversation.State
	archived   int // history entries already queued for the archive
	lastActive time.Time
	ended      bool
}

// Manager owns the hosted sessions.
type Manager struct {
	greeting    string
	suggestions []string
	provider    provider.Provider
	repo        store.Repository
	retention   time.Duration
	archive     *archiver
	broadcaster *Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	// ctx bounds outstanding sends; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager. opts.Provider is required.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		greeting:    opts.Greeting,
		suggestions: slices.Clone(opts.Suggestions),
		provider:    opts.Provider,
		repo:        opts.Repo,
		retention:   opts.ArchiveRetention,
		archive:     newArchiver(opts.Repo, opts.ArchiveQueueSize, logger, opts.Metrics),
		broadcaster: NewBroadcaster(logger),
		metrics:     opts.Metrics,
		logger:      logger.With("component", "session"),
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

// Start creates a session for visitorID seeded with the greeting.
func (m *Manager) Start(ctx context.Context, visitorID string) (View, error) {
	if visitorID == "" {
		return View{}, ErrNoVisitor
	}

	now := m.now()
	s := &Session{
		id:         uuid.New().String(),
		visitorID:  visitorID,
		state:      conversation.New(m.greeting),
		lastActive: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return View{}, ErrClosed
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	m.archive.enqueue(archiveEntry{op: archiveCreate, sessionID: s.id, visitorID: visitorID, at: now})
	m.archiveNewLocked(s)
	m.metrics.SessionStarted()
	m.logger.InfoContext(ctx, "session started", "session_id", s.id, "visitor_id", visitorID)

	return m.viewLocked(s), nil
}

// Get returns the current view of a session.
func (m *Manager) Get(visitorID, id string) (View, error) {
	s, err := m.lookup(visitorID, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return View{}, ErrNotFound
	}
	return m.viewLocked(s), nil
}

// UpdateInput stages text as the session's pending input.
func (m *Manager) UpdateInput(visitorID, id, text string) (View, error) {
	return m.transition(visitorID, id, func(st conversation.State) (conversation.State, error) {
		return conversation.UpdatePendingInput(st, text), nil
	})
}

// SelectSuggestion stages the configured suggestion at index.
func (m *Manager) SelectSuggestion(visitorID, id string, index int) (View, error) {
	if index < 0 || index >= len(m.suggestions) {
		return View{}, ErrSuggestionOutOfRange
	}
	prompt := m.suggestions[index]
	return m.transition(visitorID, id, func(st conversation.State) (conversation.State, error) {
		return conversation.SelectSuggestion(st, prompt), nil
	})
}

// Submit sends the pending input. The echo of the user message is published
// before the provider is called. Blank input returns Sent=false and no error;
// a submit while a reply is outstanding returns conversation.ErrInFlight.
//
// allow is consulted only when a send would actually be dispatched. If it
// refuses, Submit returns ErrRateLimited and the pending input is kept. A nil
// allow always permits the send.
func (m *Manager) Submit(visitorID, id string, allow func() bool) (SubmitResult, error) {
	s, err := m.lookup(visitorID, id)
	if err != nil {
		return SubmitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return SubmitResult{}, ErrNotFound
	}

	next, effect, err := conversation.Submit(s.state)
	if err != nil {
		m.metrics.SubmitRejected("in_flight")
		return SubmitResult{View: m.viewLocked(s)}, err
	}
	if effect == nil {
		m.metrics.SubmitRejected("blank")
		return SubmitResult{View: m.viewLocked(s)}, nil
	}
	if allow != nil && !allow() {
		m.metrics.SubmitRejected("rate_limited")
		return SubmitResult{View: m.viewLocked(s)}, ErrRateLimited
	}

	// Register the send before touching state so Close cannot miss it.
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return SubmitResult{}, ErrClosed
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	s.state = next
	s.lastActive = m.now()
	m.archiveNewLocked(s)
	view := m.viewLocked(s)
	m.broadcaster.Publish(view)

	go m.runSend(s, *effect)

	return SubmitResult{Sent: true, View: view}, nil
}

// End removes a session. A reply that arrives afterwards is discarded.
func (m *Manager) End(visitorID, id string) error {
	s, err := m.lookup(visitorID, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.endSession(s, EndReasonClosed)
	return nil
}

// Subscribe returns a channel of views for a session together with the
// current view. The channel is closed when ctx is done or the session ends.
func (m *Manager) Subscribe(ctx context.Context, visitorID, id string) (<-chan View, View, error) {
	s, err := m.lookup(visitorID, id)
	if err != nil {
		return nil, View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, View{}, ErrNotFound
	}

	ch, _ := m.broadcaster.Subscribe(ctx, id)
	return ch, m.viewLocked(s), nil
}

// Transcript returns the archived messages of a session owned by visitorID.
// It returns errdefs.ErrNotImplemented when archiving is disabled.
func (m *Manager) Transcript(ctx context.Context, visitorID, id string) ([]domain.ArchivedMessage, error) {
	if m.repo == nil {
		return nil, fmt.Errorf("%w: transcript archive is disabled", errdefs.ErrNotImplemented)
	}

	rec, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if rec == nil || rec.VisitorID != visitorID {
		return nil, ErrNotFound
	}
	return m.repo.GetTranscript(ctx, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ProviderName names the configured response provider.
func (m *Manager) ProviderName() string {
	if m.provider == nil {
		return ""
	}
	return m.provider.Name()
}

// Close ends every session after outstanding sends have settled. Sends still
// waiting on the provider see their context cancelled.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	for _, s := range sessions {
		m.endSession(s, EndReasonShutdown)
	}
	m.broadcaster.Close()
	m.archive.close()
	m.logger.Info("session manager closed", "ended", len(sessions))
}

func (m *Manager) transition(visitorID, id string, fn func(conversation.State) (conversation.State, error)) (View, error) {
	s, err := m.lookup(visitorID, id)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return View{}, ErrNotFound
	}

	next, err := fn(s.state)
	if err != nil {
		return m.viewLocked(s), err
	}
	s.state = next
	s.lastActive = m.now()
	m.archiveNewLocked(s)
	view := m.viewLocked(s)
	m.broadcaster.Publish(view)
	return view, nil
}

// runSend performs one SendEffect and resolves it.
func (m *Manager) runSend(s *Session, effect conversation.SendEffect) {
	defer m.wg.Done()

	m.metrics.SendStarted()
	defer m.metrics.SendSettled()

	start := m.now()
	reply, err := m.provider.Send(m.ctx, effect.Message)
	took := m.now().Sub(start)

	outcome := conversation.Succeeded(reply)
	if err != nil {
		outcome = conversation.Failed(err)
		m.logger.Warn("provider send failed",
			"error", err,
			"session_id", s.id,
			"provider", m.provider.Name(),
			"duration", took)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		m.metrics.ObserveSend(m.provider.Name(), metrics.OutcomeDiscarded, took)
		m.logger.Debug("discarding reply for ended session", "session_id", s.id)
		return
	}

	next, err := conversation.ResolveSend(s.state, outcome)
	if err != nil {
		m.logger.Error("failed to resolve send", "error", err, "session_id", s.id)
		return
	}

	label := metrics.OutcomeReply
	if !outcome.OK() {
		label = metrics.OutcomeFallback
	}
	m.metrics.ObserveSend(m.provider.Name(), label, took)

	s.state = next
	s.lastActive = m.now()
	m.archiveNewLocked(s)
	m.broadcaster.Publish(m.viewLocked(s))
}

func (m *Manager) lookup(visitorID, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	s, ok := m.sessions[id]
	if !ok || s.visitorID != visitorID {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) endSession(s *Session, reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	m.broadcaster.CloseSession(s.id)
	m.archive.enqueue(archiveEntry{op: archiveEnd, sessionID: s.id, at: m.now()})
	s.mu.Unlock()

	m.metrics.SessionEnded(reason)
	m.logger.Info("session ended", "session_id", s.id, "visitor_id", s.visitorID, "reason", reason)
}

// archiveNewLocked queues history entries not yet archived. History only
// grows, so an entry's index is its sequence number.
func (m *Manager) archiveNewLocked(s *Session) {
	now := m.now()
	for ; s.archived < len(s.state.History); s.archived++ {
		m.archive.enqueue(archiveEntry{
			op:        archiveMessage,
			sessionID: s.id,
			seq:       s.archived,
			msg:       s.state.History[s.archived],
			at:        now,
		})
	}
}

func (m *Manager) viewLocked(s *Session) View {
	return View{
		SessionID:    s.id,
		Messages:     conversation.DisplayHistory(s.state),
		PendingInput: s.state.PendingInput,
		InFlight:     s.state.InFlight,
		Suggestions:  append([]string{}, m.suggestions...),
	}
}
