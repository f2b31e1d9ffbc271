package chat

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogMessenger writes outbound messages to the log. It backs the HTTP intake
// when no chat transport is configured.
type LogMessenger struct{}

// SendText implements Messenger.
func (LogMessenger) SendText(_ context.Context, chatID, text string, kb Keyboard) error {
	log.Info().
		Str("chat_id", chatID).
		Str("text", text).
		Int("buttons", countButtons(kb)).
		Msg("outbound text")
	return nil
}

// SendImage implements Messenger.
func (LogMessenger) SendImage(_ context.Context, chatID string, img []byte, caption string, kb Keyboard) error {
	log.Info().
		Str("chat_id", chatID).
		Int("bytes", len(img)).
		Str("caption", caption).
		Int("buttons", countButtons(kb)).
		Msg("outbound image")
	return nil
}

func countButtons(kb Keyboard) int {
	n := 0
	for _, row := range kb {
		n += len(row)
	}
	return n
}
