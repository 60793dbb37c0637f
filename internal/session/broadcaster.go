package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// Broadcaster fans session views out to live subscribers (SSE streams and
// websockets). Subscribers register for a session ID and receive every view
// published for it.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan View // sessionID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan View),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for views of sessionID. The subscription
// is removed when ctx is cancelled. On a closed broadcaster the returned
// channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan View, string) {
	subID := uuid.New().String()
	ch := make(chan View, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan View)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends a view to every subscriber of its session.
// Non-blocking: a subscriber whose buffer is full misses the view. Views are
// full snapshots, so the next one brings it up to date.
func (b *Broadcaster) Publish(v View) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[v.SessionID] {
		select {
		case ch <- v:
		default:
			b.logger.Debug("dropped view for slow subscriber",
				"session_id", v.SessionID,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// CloseSession closes every subscription of sessionID.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers[sessionID] {
		close(ch)
		delete(b.subscribers[sessionID], subID)
	}
	delete(b.subscribers, sessionID)
}

// Subscribers returns the number of live subscriptions for sessionID.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
