package conversation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ashureev/helping-hand/internal/domain"
	"github.com/containerd/errdefs"
)

const (
	// DefaultGreeting seeds every new conversation.
	DefaultGreeting = "Hello! How can I help you today?"
	// FallbackText replaces the reply whenever the provider fails.
	FallbackText = "Sorry, I couldn't connect. Please try again later."
	// ThinkingText is the synthetic placeholder shown while a send is in flight.
	ThinkingText = "Thinking..."
)

var (
	// ErrInFlight is returned by Submit when a send is already outstanding.
	ErrInFlight = fmt.Errorf("%w: a message is already being answered", errdefs.ErrConflict)
	// ErrNoPendingSend is returned by ResolveSend when nothing is in flight.
	ErrNoPendingSend = fmt.Errorf("%w: no send is awaiting a reply", errdefs.ErrFailedPrecondition)
)

// State is the conversation aggregate for one session.
type State struct {
	History      []domain.Message
	PendingInput string
	InFlight     bool
}

// SendEffect asks the host to deliver Message to the response provider.
type SendEffect struct {
	Message string
}

// Outcome is the settled result of a SendEffect.
type Outcome struct {
	Reply string
	Err   error
}

// Succeeded builds a successful outcome.
func Succeeded(reply string) Outcome {
	return Outcome{Reply: reply}
}

// Failed builds a failed outcome. A nil err still counts as a failure.
func Failed(err error) Outcome {
	if err == nil {
		err = errSendFailed
	}
	return Outcome{Err: err}
}

var errSendFailed = errors.New("send failed")

// OK reports whether the outcome carries a usable reply.
func (o Outcome) OK() bool {
	return o.Err == nil && !isBlank(o.Reply)
}

// appendMessage returns a copy of history with msg added. Published states keep
// their own backing array.
func appendMessage(history []domain.Message, msg domain.Message) []domain.Message {
	out := slices.Grow(slices.Clone(history), 1)
	return append(out, msg)
}
