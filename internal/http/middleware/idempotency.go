package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets an intake client name an event so retries of the
// same POST are recognised. The key becomes the dispatcher event id.
const HeaderIdempotencyKey = "Idempotency-Key"

const eventKeyCtx = "event.key"

// Keys are short opaque tokens: a chat update id, a UUID, "order-7:retry".
var eventKeyRE = regexp.MustCompile(`^[A-Za-z0-9._~:\-]{1,128}$`)

// ReplayLookup reports whether the event named key was already accepted by
// the dispatcher. It must not claim key.
type ReplayLookup func(ctx context.Context, key string) (bool, error)

type eventKey struct {
	key    string
	replay bool
}

// EventKey validates an optional Idempotency-Key and, when lookup is set,
// marks requests whose event was already accepted. Replays are answered by
// the handler without resubmitting and do not spend the caller's rate budget.
// A malformed key is rejected with 400 bad_idempotency_key. Lookup errors are
// logged and treated as a miss; the dispatcher's own dedup still applies.
func EventKey(lookup ReplayLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if !eventKeyRE.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key",
				"Idempotency-Key must be 1-128 characters of [A-Za-z0-9._~:-]")
			return
		}

		ek := eventKey{key: key}
		if lookup != nil {
			seen, err := lookup(c.Request.Context(), key)
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Str("event_key", key).Msg("replay lookup failed")
			}
			ek.replay = err == nil && seen
		}
		c.Set(eventKeyCtx, ek)
		c.Next()
	}
}

func eventKeyFrom(c *gin.Context) eventKey {
	v, _ := c.Get(eventKeyCtx)
	ek, _ := v.(eventKey)
	return ek
}

// GetIdempotencyKey returns the key accepted by EventKey.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	ek := eventKeyFrom(c)
	return ek.key, ek.key != ""
}

// IsReplay reports whether EventKey found the request's event already
// accepted.
func IsReplay(c *gin.Context) bool { return eventKeyFrom(c).replay }
