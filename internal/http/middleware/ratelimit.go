package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/ratelimit"
)

// CallerLimit bounds admin API requests per authenticated caller, falling
// back to the client IP. Chat events get a second, per-user budget inside the
// dispatcher; this one protects the HTTP surface.
type CallerLimit struct {
	buckets *ratelimit.Buckets
	exempt  func(callerID string) bool
}

// NewCallerLimit refills rps tokens per second up to burst for each caller.
// Callers for which exempt returns true (the operator) are never limited.
func NewCallerLimit(rps float64, burst int, exempt func(callerID string) bool) *CallerLimit {
	return &CallerLimit{buckets: ratelimit.New(rps, burst), exempt: exempt}
}

// Handler answers 429 rate_limited with a Retry-After derived from the
// caller's bucket. Mount it after EventKey on intake routes: replays of an
// accepted event are free.
func (l *CallerLimit) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := UserID(c)
		if IsReplay(c) || (caller != "" && l.exempt != nil && l.exempt(caller)) {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if caller != "" {
			key = "user:" + caller
		}
		ok, wait := l.buckets.Wait(key)
		if ok {
			c.Next()
			return
		}
		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "too many admin requests")
	}
}
