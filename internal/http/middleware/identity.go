package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID names the caller on admin requests. It is only believed on
// requests that also carry the admin bearer token.
const HeaderUserID = "X-User-ID"

const userIDKey = "userID"

// Identity stores the X-User-ID caller in the Gin context when the request
// presents "Authorization: Bearer <adminToken>". Without a configured token no
// request is ever authenticated. Unauthenticated requests pass through with no
// identity; RequireIdentity rejects them where one is needed.
func Identity(adminToken string) gin.HandlerFunc {
	want := []byte(adminToken)
	return func(c *gin.Context) {
		if len(want) > 0 && bearerMatches(c.GetHeader("Authorization"), want) {
			if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
				c.Set(userIDKey, uid)
			}
		}
		c.Next()
	}
}

// RequireIdentity answers 401 unauthorized unless Identity authenticated the
// caller.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) != "" {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="orderbot"`)
		abortJSON(c, http.StatusUnauthorized, "unauthorized", "admin token and "+HeaderUserID+" required")
	}
}

// UserID returns the authenticated caller, or "" when there is none.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerMatches(header string, want []byte) bool {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	got := []byte(strings.TrimSpace(header[len(prefix):]))
	return subtle.ConstantTimeCompare(got, want) == 1
}
