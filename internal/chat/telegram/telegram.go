// Package telegram adapts the Telegram Bot API to the chat boundary: updates
// become chat.Events and chat.Messenger calls become Bot API requests.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-order-bot/internal/chat"
)

// botAPI is the subset of *tgbotapi.BotAPI used here.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Submitter accepts inbound events, normally a *chat.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, ev chat.Event) error
}

// Client is a chat.Messenger and update poller for one bot.
type Client struct {
	api         botAPI
	username    string
	pollTimeout time.Duration
}

// New authenticates with token.
func New(token string, pollTimeout time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return newClient(bot, bot.Self.UserName, pollTimeout), nil
}

func newClient(api botAPI, username string, pollTimeout time.Duration) *Client {
	if pollTimeout <= 0 {
		pollTimeout = 60 * time.Second
	}
	return &Client{api: api, username: username, pollTimeout: pollTimeout}
}

// Username returns the bot's username.
func (c *Client) Username() string { return c.username }

// SendText implements chat.Messenger.
func (c *Client) SendText(_ context.Context, chatID, text string, kb chat.Keyboard) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	if markup, ok := inlineKeyboard(kb); ok {
		msg.ReplyMarkup = markup
	}
	_, err = c.api.Send(msg)
	return err
}

// SendImage implements chat.Messenger.
func (c *Client) SendImage(_ context.Context, chatID string, img []byte, caption string, kb chat.Keyboard) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(id, tgbotapi.FileBytes{Name: "image.png", Bytes: img})
	photo.Caption = caption
	if markup, ok := inlineKeyboard(kb); ok {
		photo.ReplyMarkup = markup
	}
	_, err = c.api.Send(photo)
	return err
}

// Welcome posts the channel greeting with a deep link into the bot's
// private chat.
func (c *Client) Welcome(_ context.Context, channelID int64) error {
	msg := tgbotapi.NewMessage(channelID, "Welcome to AlphaZone!\n\nClick the button below to start ordering:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Start Now 🚀", c.deepLink()),
		),
	)
	_, err := c.api.Send(msg)
	return err
}

func (c *Client) deepLink() string {
	return fmt.Sprintf("https://t.me/%s?start=1", c.username)
}

// Run long-polls for updates and submits them until ctx is done.
func (c *Client) Run(ctx context.Context, sub Submitter) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(c.pollTimeout / time.Second)
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()
	c.Serve(ctx, updates, sub)
}

// Serve submits updates from ch until ctx is done or ch is closed.
func (c *Client) Serve(ctx context.Context, ch <-chan tgbotapi.Update, sub Submitter) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				return
			}
			c.handleUpdate(ctx, u, sub)
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, u tgbotapi.Update, sub Submitter) {
	if u.CallbackQuery != nil {
		// Stop the client-side spinner whatever happens next.
		if _, err := c.api.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
			log.Debug().Err(err).Msg("callback answer failed")
		}
	}

	ev, ok := toEvent(u)
	if !ok {
		return
	}
	err := sub.Submit(ctx, ev)
	switch {
	case err == nil, errors.Is(err, chat.ErrDuplicate):
	case errors.Is(err, chat.ErrRateLimited):
		_ = c.SendText(ctx, ev.ChatID, "You're going a bit fast. Please wait a moment and try again.", nil)
	default:
		log.Warn().Err(err).Int("update_id", u.UpdateID).Msg("update not submitted")
	}
}

// toEvent converts an update. Updates without a sender or of unsupported
// kinds are dropped.
func toEvent(u tgbotapi.Update) (chat.Event, bool) {
	ev := chat.Event{ID: "tg:" + strconv.Itoa(u.UpdateID)}

	if q := u.CallbackQuery; q != nil {
		if q.From == nil {
			return chat.Event{}, false
		}
		ev.UserID = strconv.FormatInt(q.From.ID, 10)
		ev.ChatID = ev.UserID
		if q.Message != nil && q.Message.Chat != nil {
			ev.ChatID = strconv.FormatInt(q.Message.Chat.ID, 10)
		}
		ev.Type = chat.EventCallback
		ev.Data = q.Data
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return chat.Event{}, false
	}
	ev.UserID = strconv.FormatInt(m.From.ID, 10)
	ev.ChatID = strconv.FormatInt(m.Chat.ID, 10)

	switch {
	case m.IsCommand():
		ev.Type = chat.EventCommand
		ev.Command = m.Command()
		ev.Args = m.CommandArguments()
	case len(m.Photo) > 0:
		ev.Type = chat.EventPhoto
		// Sizes are ascending; the last is the original.
		ev.ProofRef = m.Photo[len(m.Photo)-1].FileID
		ev.Text = m.Caption
	case m.Text != "":
		ev.Type = chat.EventText
		ev.Text = m.Text
	default:
		return chat.Event{}, false
	}
	return ev, true
}

func inlineKeyboard(kb chat.Keyboard) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(kb) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}
