package conversation

import (
	"slices"
	"strings"

	"github.com/ashureev/helping-hand/internal/domain"
)

// Initialize returns a fresh conversation seeded with the default greeting.
func Initialize() State {
	return New(DefaultGreeting)
}

// New returns a fresh conversation seeded with greeting.
func New(greeting string) State {
	if isBlank(greeting) {
		greeting = DefaultGreeting
	}
	return State{
		History: []domain.Message{{Sender: domain.SenderBot, Text: greeting}},
	}
}

// UpdatePendingInput stages text verbatim.
func UpdatePendingInput(s State, text string) State {
	s.PendingInput = text
	return s
}

// SelectSuggestion stages a prompt suggestion without sending it.
func SelectSuggestion(s State, prompt string) State {
	return UpdatePendingInput(s, prompt)
}

// Submit sends the staged input.
//
// Blank input is a no-op: the state comes back unchanged with a nil effect and
// a nil error. While a send is outstanding Submit returns ErrInFlight and leaves
// the state alone. Otherwise the trimmed text is appended as a user message, the
// input is cleared and the returned effect carries the trimmed text.
func Submit(s State) (State, *SendEffect, error) {
	trimmed := strings.TrimSpace(s.PendingInput)
	if trimmed == "" {
		return s, nil, nil
	}
	if s.InFlight {
		return s, nil, ErrInFlight
	}

	s.History = appendMessage(s.History, domain.Message{Sender: domain.SenderUser, Text: trimmed})
	s.PendingInput = ""
	s.InFlight = true
	return s, &SendEffect{Message: trimmed}, nil
}

// ResolveSend appends the bot's answer for the outstanding send and clears the
// in-flight flag. Failed outcomes, and replies that are blank, become
// FallbackText. It returns ErrNoPendingSend if no send is outstanding.
func ResolveSend(s State, o Outcome) (State, error) {
	if !s.InFlight {
		return s, ErrNoPendingSend
	}

	text := FallbackText
	if o.OK() {
		text = o.Reply
	}
	s.History = appendMessage(s.History, domain.Message{Sender: domain.SenderBot, Text: text})
	s.InFlight = false
	return s, nil
}

// DisplayHistory returns the messages a presentation layer should render: the
// history plus a trailing "Thinking..." placeholder while a send is in flight.
// The result never shares memory with s.History.
func DisplayHistory(s State) []domain.Message {
	out := slices.Clone(s.History)
	if s.InFlight {
		out = append(out, domain.Message{Sender: domain.SenderBot, Text: ThinkingText})
	}
	if out == nil {
		out = []domain.Message{}
	}
	return out
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
