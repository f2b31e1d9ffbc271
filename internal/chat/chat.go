// Package chat defines the boundary between chat transports and the order
// flow: inbound events, outbound messaging, and the dispatcher that feeds
// events to a handler one user at a time.
package chat

import (
	"context"
	"strings"
)

// EventType classifies inbound events.
type EventType string

const (
	EventCommand  EventType = "command"
	EventCallback EventType = "callback"
	EventText     EventType = "text"
	EventPhoto    EventType = "photo"
)

// Event is a transport-neutral inbound message.
type Event struct {
	// ID is unique per transport delivery; redeliveries carry the same ID.
	ID     string
	UserID string
	ChatID string
	Type   EventType

	// Command is the command name without the leading slash; Args is the
	// rest of the line.
	Command string
	Args    string

	// Data is the opaque token of a pressed button.
	Data string

	Text string

	// ProofRef references an uploaded photo.
	ProofRef string
}

// ParseCommand splits "/name@bot args" into ("name", "args"). ok is false
// when text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Button is an inline button. Exactly one of Data or URL is set.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Keyboard is rows of buttons.
type Keyboard [][]Button

// Messenger delivers outbound messages.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string, kb Keyboard) error
	SendImage(ctx context.Context, chatID string, img []byte, caption string, kb Keyboard) error
}

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }
