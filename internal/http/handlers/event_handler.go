// Event intake HTTP handler.
//
//   - POST /events  (inject a chat event as if a transport delivered it)
//
// Events are queued on the dispatcher and handled asynchronously; replies go
// out through the configured messenger, not the HTTP response.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-order-bot/internal/chat"
	"github.com/tbourn/go-order-bot/internal/http/middleware"
)

// eventIDPrefix namespaces HTTP event ids apart from transport ids ("tg:").
const eventIDPrefix = "http:"

// PostEventRequest is the body of POST /events. Type may be omitted: it is
// derived from the populated field (proof_ref, data, a "/" text, plain text).
type PostEventRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	ChatID   string `json:"chat_id"`
	Type     string `json:"type"`
	Data     string `json:"data"`
	Text     string `json:"text"`
	ProofRef string `json:"proof_ref"`
}

// PostEventResponse acknowledges an accepted or already-seen event.
type PostEventResponse struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// EventID derives the dispatcher event id for an Idempotency-Key.
func EventID(idempotencyKey string) string { return eventIDPrefix + idempotencyKey }

// PostEvent validates the body, builds a chat.Event and submits it.
//
//   - 202 accepted
//   - 200 duplicate (replayed Idempotency-Key)
//   - 400 malformed event
//   - 401 no authenticated caller
//   - 403 user_id differs from the caller and the caller is not the operator
//   - 429 per-user chat rate limit
//   - 503 dispatcher stopped or request cancelled
func (h *Handlers) PostEvent(c *gin.Context) {
	var req PostEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
		return
	}
	ev, err := toEvent(req)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// Callers speak for themselves; only the operator may inject events on
	// behalf of another user.
	caller := middleware.UserID(c)
	if caller == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing "+middleware.HeaderUserID)
		return
	}
	if ev.UserID != caller && !h.registry.IsOperator(caller) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "user_id must match the caller")
		return
	}

	if key, found := middleware.GetIdempotencyKey(c); found {
		ev.ID = EventID(key)
	} else {
		ev.ID = EventID(uuid.NewString())
	}
	if middleware.IsReplay(c) {
		ok(c, http.StatusOK, PostEventResponse{EventID: ev.ID, Duplicate: true})
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Debug().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("text", middleware.Redact(ev.Text)).
		Msg("event received")

	err = h.events.Submit(c.Request.Context(), ev)
	switch {
	case err == nil:
		ok(c, http.StatusAccepted, PostEventResponse{EventID: ev.ID})
	case errors.Is(err, chat.ErrDuplicate):
		ok(c, http.StatusOK, PostEventResponse{EventID: ev.ID, Duplicate: true})
	case errors.Is(err, chat.ErrRateLimited):
		c.Header("Retry-After", "1")
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "too many events for this user")
	case errors.Is(err, chat.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "event intake unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not submit event")
	}
}

var (
	errUnknownType  = errors.New("type must be one of: command, callback, text, photo")
	errEmptyEvent   = errors.New("event has no content")
	errNotACommand  = errors.New("command text must start with /")
	errMissingField = errors.New("field required for event type")
)

// toEvent maps the request onto a chat.Event. ChatID defaults to UserID, which
// matches private chats.
func toEvent(req PostEventRequest) (chat.Event, error) {
	ev := chat.Event{
		UserID:   strings.TrimSpace(req.UserID),
		ChatID:   strings.TrimSpace(req.ChatID),
		Data:     strings.TrimSpace(req.Data),
		Text:     strings.TrimSpace(req.Text),
		ProofRef: strings.TrimSpace(req.ProofRef),
	}
	if ev.UserID == "" {
		return ev, errMissingField
	}
	if ev.ChatID == "" {
		ev.ChatID = ev.UserID
	}

	typ := chat.EventType(strings.ToLower(strings.TrimSpace(req.Type)))
	if typ == "" {
		switch {
		case ev.ProofRef != "":
			typ = chat.EventPhoto
		case ev.Data != "":
			typ = chat.EventCallback
		case strings.HasPrefix(ev.Text, "/"):
			typ = chat.EventCommand
		case ev.Text != "":
			typ = chat.EventText
		default:
			return ev, errEmptyEvent
		}
	}
	ev.Type = typ

	switch typ {
	case chat.EventCommand:
		name, args, isCmd := chat.ParseCommand(ev.Text)
		if !isCmd {
			return ev, errNotACommand
		}
		ev.Command, ev.Args = name, args
	case chat.EventCallback:
		if ev.Data == "" {
			return ev, errMissingField
		}
	case chat.EventText:
		if ev.Text == "" {
			return ev, errMissingField
		}
	case chat.EventPhoto:
		if ev.ProofRef == "" {
			return ev, errMissingField
		}
	default:
		return ev, errUnknownType
	}
	return ev, nil
}
