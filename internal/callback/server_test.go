package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moneymoves/desklogin/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestPreflight(t *testing.T) {
	s := NewServer(0, "/oauth")
	for _, target := range []string{"/oauth", "/anything/else"} {
		rec := serve(s, http.MethodOptions, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("OPTIONS %s status = %d", target, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("OPTIONS %s must have no body, got %q", target, rec.Body.String())
		}
		want := map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": "OPTIONS, GET",
			"Access-Control-Allow-Headers": "*",
		}
		for k, v := range want {
			if got := rec.Header().Get(k); got != v {
				t.Fatalf("%s = %q, want %q", k, got, v)
			}
		}
	}
	if s.Waiting() != 0 {
		t.Fatalf("preflight must not touch waiters")
	}
}

func TestCallbackDeliversCode(t *testing.T) {
	s := NewServer(0, "/oauth")
	ch, cancel := s.Await()
	defer cancel()
	var observed []Result
	s.OnCallback(func(r Result) { observed = append(observed, r) })

	rec := serve(s, http.MethodGet, "/oauth?code=xyz&state=abc123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "close this tab") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	select {
	case got := <-ch:
		if got.Code != "xyz" || got.State != "abc123" {
			t.Fatalf("unexpected result %+v", got)
		}
	default:
		t.Fatalf("waiter did not receive the code")
	}
	if len(observed) != 1 || observed[0].Code != "xyz" {
		t.Fatalf("observer saw %+v", observed)
	}
	if s.Waiting() != 0 {
		t.Fatalf("waiters are one-shot")
	}
}

func TestCallbackErrorAndMissingCode(t *testing.T) {
	s := NewServer(0, "/oauth")
	ch, cancel := s.Await()
	defer cancel()

	rec := serve(s, http.MethodGet, "/oauth")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing code status = %d", rec.Code)
	}
	if s.Waiting() != 1 {
		t.Fatalf("a request without code must not consume the waiter")
	}

	rec = serve(s, http.MethodGet, "/oauth?error=access_denied&error_description=%3Cb%3Eno%3C%2Fb%3E")
	if rec.Code != http.StatusOK {
		t.Fatalf("error callback status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<b>no</b>") {
		t.Fatalf("error description must be escaped")
	}
	got := <-ch
	if got.Error != "access_denied" || got.Code != "" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestAwaitCancel(t *testing.T) {
	s := NewServer(0, "/oauth")
	_, cancel := s.Await()
	cancel()
	cancel()
	if s.Waiting() != 0 {
		t.Fatalf("cancel did not unregister the waiter")
	}
}

func TestStartStop(t *testing.T) {
	s := NewServer(0, "oauth")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start must be a no-op: %v", err)
	}
	ch, cancel := s.Await()
	defer cancel()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/oauth?code=live", s.Port()))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	select {
	case got := <-ch:
		if got.Code != "live" {
			t.Fatalf("unexpected result %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result delivered")
	}

	if err = s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err = s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop must be a no-op: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("server still running")
	}
}

func TestStartBindsLoopbackOnly(t *testing.T) {
	s := NewServer(0, "/oauth")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	s.mu.Lock()
	addr, ok := s.listener.Addr().(*net.TCPAddr)
	s.mu.Unlock()
	if !ok || !addr.IP.IsLoopback() {
		t.Fatalf("listener bound to %v, want a loopback address", s.listener.Addr())
	}
}

func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	s := NewServer(port, "/oauth")
	err = s.Start()
	if !errors.Is(err, auth.ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("server must not report running after a failed bind")
	}
}
