package logging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", recovered)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerMasksCodeAndTagsSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	restore := RedirectOutput(&buf)
	defer restore()
	previousFormatter := log.StandardLogger().Formatter
	log.SetFormatter(&LogFormatter{})
	defer log.SetFormatter(previousFormatter)

	var seen string
	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/oauth", func(c *gin.Context) {
		seen = GetSessionID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/oauth?code=4%2F0AbCdEfGhIjKlMn&state=3f2a9c1e-aaaa", nil)
	engine.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "3f2a9c1e-aaaa" {
		t.Fatalf("session id not propagated to the request context, got %q", seen)
	}
	out := buf.String()
	if strings.Contains(out, "0AbCdEfGhIjKlMn") {
		t.Fatalf("authorization code leaked into the log: %s", out)
	}
	if !strings.Contains(out, "[3f2a9c1e]") {
		t.Fatalf("session column missing: %s", out)
	}
}

func TestLogFormatterColumns(t *testing.T) {
	entry := log.NewEntry(log.StandardLogger()).WithFields(log.Fields{
		SessionIDField: "abcdef0123456789",
		"strategy":     "handoff",
		"ignored":      "x",
	})
	entry.Time = time.Date(2026, 10, 19, 20, 14, 4, 0, time.UTC)
	entry.Level = log.WarnLevel
	entry.Message = "poll failed\n"

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := "[2026-10-19 20:14:04] [abcdef01] [warn ] poll failed strategy=handoff\n"
	if string(out) != want {
		t.Fatalf("Format = %q, want %q", out, want)
	}
}

func TestEntryWithoutSession(t *testing.T) {
	if _, ok := Entry(context.Background()).Data[SessionIDField]; ok {
		t.Fatalf("no session id expected")
	}
	if got := Entry(WithSessionID(context.Background(), "s1")).Data[SessionIDField]; got != "s1" {
		t.Fatalf("session field = %v", got)
	}
}
