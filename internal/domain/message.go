// Package domain contains core domain types for the Helping Hand widget.
package domain

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser marks a message typed or selected by the visitor.
	SenderUser Sender = "user"
	// SenderBot marks a greeting, reply or fallback produced by the widget.
	SenderBot Sender = "bot"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Message is a single chat entry. It is never mutated once appended.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// ArchivedMessage is a message as recorded in the transcript archive.
type ArchivedMessage struct {
	Message
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}
