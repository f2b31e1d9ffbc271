package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const testToken = "middleware-test-token"

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// accessLines decodes one JSON object per logged line.
func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func authed(req *http.Request, user string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set(HeaderUserID, user)
	return req
}

func TestRequestID_MintsOrKeeps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/health", func(c *gin.Context) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || w.Header().Get(requestIDHeader) != seen {
		t.Fatalf("minted id %q not echoed (%q)", seen, w.Header().Get(requestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("x-request-id", "tg-relay-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen != "tg-relay-42" || w.Header().Get(requestIDHeader) != "tg-relay-42" {
		t.Fatalf("incoming id not kept: ctx=%q header=%q", seen, w.Header().Get(requestIDHeader))
	}
}

func TestLogger_AccessLines(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Identity(testToken), Logger())
	api := r.Group("/api/v1", RequireIdentity())
	api.GET("/sessions/:userID", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"state": "idle"}) })
	api.POST("/events", EventKey(nil), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	api.PUT("/endpoint", func(c *gin.Context) {
		_ = c.Error(errSaveFailed{})
		c.Status(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), authed(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/7?note=pay+shop@okbank", nil), "operator-1"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions/7", nil))
	ev := authed(httptest.NewRequest(http.MethodPost, "/api/v1/events", nil), "7")
	ev.Header.Set(HeaderIdempotencyKey, "evt-9")
	r.ServeHTTP(httptest.NewRecorder(), ev)
	r.ServeHTTP(httptest.NewRecorder(), authed(httptest.NewRequest(http.MethodPut, "/api/v1/endpoint", nil), "operator-1"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	lines := accessLines(t, buf)
	if len(lines) != 5 {
		t.Fatalf("got %d access lines; want 5:\n%s", len(lines), buf.String())
	}

	read := lines[0]
	if read["level"] != "info" || read["route"] != "/api/v1/sessions/:userID" || read["caller"] != "operator-1" {
		t.Fatalf("session read line = %v", read)
	}
	if q, _ := read["query"].(string); strings.Contains(q, "shop@okbank") || !strings.Contains(q, "[REDACTED:handle]") {
		t.Fatalf("payment handle leaked into query field: %q", q)
	}

	anon := lines[1]
	if anon["level"] != "warn" || anon["caller"] != "" || anon["status"] != float64(http.StatusUnauthorized) {
		t.Fatalf("anonymous line = %v", anon)
	}

	intake := lines[2]
	if intake["event_key"] != "evt-9" || intake["replay"] != false || intake["status"] != float64(http.StatusAccepted) {
		t.Fatalf("intake line = %v", intake)
	}

	failed := lines[3]
	if failed["level"] != "error" || failed["errors"] == nil {
		t.Fatalf("failed update line = %v", failed)
	}

	miss := lines[4]
	if miss["route"] != "unmatched" || miss["path"] != "/nope" || miss["level"] != "warn" {
		t.Fatalf("unmatched line = %v", miss)
	}
}

type errSaveFailed struct{}

func (errSaveFailed) Error() string { return "endpoint store unavailable" }

func TestRecovery_PanicInIntake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.POST("/api/v1/events", func(c *gin.Context) { panic("nil session") })
	r.GET("/api/v1/sessions", func(c *gin.Context) {
		c.String(http.StatusOK, `{"sessions":[`)
		panic("encoder died")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError || w.Header().Get(requestIDHeader) != "rid-panic" {
		t.Fatalf("status=%d rid=%q", w.Code, w.Header().Get(requestIDHeader))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Once bytes went out the status line cannot change; no envelope is appended.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("envelope appended after partial write: %q", w.Body.String())
	}

	var panics int
	for _, l := range accessLines(t, buf) {
		if l["message"] == "panic recovered" {
			panics++
			if l["request_id"] == "" || l["stack"] == nil {
				t.Fatalf("panic line missing request id or stack: %v", l)
			}
		}
	}
	if panics != 2 {
		t.Fatalf("panic lines = %d; want 2", panics)
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/ready", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("storage ping ok")
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.Header.Set(requestIDHeader, "rid-ready")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := accessLines(t, buf)
	if len(lines) != 1 || lines[0]["request_id"] != "rid-ready" || lines[0]["route"] != nil {
		t.Fatalf("fallback logger should carry only the request id: %v", lines)
	}
}

func Test_truncate(t *testing.T) {
	if truncate("start", 10) != "start" {
		t.Fatalf("short input changed")
	}
	if got := truncate("state=idle", 5); got != "state…" {
		t.Fatalf("truncate = %q", got)
	}
}
