package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() { gin.SetMode(gin.TestMode) }

func TestTokenBucket_PerKeyAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatal("first two requests should pass")
	}
	if l.allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("b") {
		t.Fatal("other keys have their own bucket")
	}

	now = now.Add(1500 * time.Millisecond)
	if !l.allow("a") {
		t.Error("one token should refill after 1.5s at 60/min")
	}
	if l.allow("a") {
		t.Error("only one token refilled")
	}
}

func TestTokenBucket_Middleware(t *testing.T) {
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.GinMiddleware(func(c *gin.Context) string { return c.GetHeader("X-Principal") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(principal string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Principal", principal)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if got := do("m1"); got != http.StatusOK {
		t.Fatalf("first = %d", got)
	}
	if got := do("m1"); got != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", got)
	}
	if got := do("m2"); got != http.StatusOK {
		t.Errorf("other principal = %d", got)
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "abc-123" || w.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("client id not propagated: body=%q header=%q", w.Body.String(), w.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 65))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Body.String(); len(got) != 36 {
		t.Errorf("oversized id should be replaced by a uuid, got %q", got)
	}
}

func TestLogger_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core), "/healthz"))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/ok", "/bad", "/boom", "/healthz"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("got %d log entries, want 3", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d level = %s, want %s", i, e.Level, want[i])
		}
		if id, _ := e.ContextMap()["request_id"].(string); id == "" {
			t.Errorf("entry %d has no request id", i)
		}
	}
}
