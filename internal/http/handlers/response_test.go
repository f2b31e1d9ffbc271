package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-order-bot/internal/http/middleware"
)

// envelopeRouter runs fail and ok behind the production request-id, identity
// and access-log middleware, capturing everything logged.
func envelopeRouter(t *testing.T) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity(handlerToken), middleware.Logger())
	r.POST("/events", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, "could not submit event")
	})
	r.PUT("/endpoint", func(c *gin.Context) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the operator may change the endpoint")
	})
	r.GET("/sessions/:userID", func(c *gin.Context) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no session for user")
	})
	r.GET("/endpoint", func(c *gin.Context) {
		ok(c, http.StatusOK, EndpointResponse{Address: "https://abc.example/generate", Set: true, Suffix: "/generate"})
	})
	return r, &buf
}

// messages returns the "message" field of every log line.
func messages(t *testing.T, buf *bytes.Buffer) map[string]map[string]any {
	t.Helper()
	out := map[string]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q", line)
		}
		if msg, _ := m["message"].(string); msg != "request" {
			out[msg] = m
		}
	}
	return out
}

func TestFail_EnvelopeAndAudit(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		path    string
		user    string
		status  int
		code    string
		logMsg  string
		logLvl  string
		noAudit bool
	}{
		{"submit failure is logged", http.MethodPost, "/events", "7", http.StatusInternalServerError, ErrCodeSubmitFailed, "api error", "error", false},
		{"forbidden caller is audited", http.MethodPut, "/endpoint", "intruder", http.StatusForbidden, ErrCodeForbidden, "caller refused", "warn", false},
		{"not found is quiet", http.MethodGet, "/sessions/9", "operator-1", http.StatusNotFound, ErrCodeNotFound, "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, buf := envelopeRouter(t)
			w := do(r, tc.method, tc.path, tc.user, nil, map[string]string{"X-Request-ID": "rid-" + tc.code})

			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
			er := decodeErr(t, w)
			if er.RequestID != "rid-"+tc.code || er.Code != tc.code || er.Message == "" {
				t.Fatalf("envelope = %+v", er)
			}

			logged := messages(t, buf)
			if tc.noAudit {
				if len(logged) != 0 {
					t.Fatalf("unexpected handler logs: %v", logged)
				}
				return
			}
			line, found := logged[tc.logMsg]
			if !found {
				t.Fatalf("no %q line in %s", tc.logMsg, buf.String())
			}
			if line["level"] != tc.logLvl || line["code"] != tc.code || line["request_id"] != "rid-"+tc.code {
				t.Fatalf("log line = %v", line)
			}
			if tc.status == http.StatusForbidden && line["caller"] != tc.user {
				t.Fatalf("audit line lacks caller: %v", line)
			}
		})
	}
}

func TestOk_WritesBody(t *testing.T) {
	r, _ := envelopeRouter(t)
	w := do(r, http.MethodGet, "/endpoint", "operator-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got EndpointResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Set || got.Address != "https://abc.example/generate" {
		t.Fatalf("body = %+v", got)
	}
}
