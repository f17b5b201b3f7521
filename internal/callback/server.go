// Package callback runs the local HTTP listener that receives the OAuth redirect.
// The listener is a process-wide resource: it is started once, outlives individual
// login sessions, and hands each redirect to whichever session is currently waiting.
package callback

import (
	"context"
	"errors"
	"html"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/logging"
	log "github.com/sirupsen/logrus"
)

// Result is one redirect delivered to the listener.
type Result struct {
	// Code is the authorization code.
	Code string
	// State echoes the state parameter, which carries the session identifier.
	State string
	// Error is the provider's error parameter, e.g. access_denied.
	Error string
	// ErrorDescription is the provider's error_description parameter.
	ErrorDescription string
}

// Server is the local callback listener.
type Server struct {
	port int
	path string

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	nextID    int
	waiters   map[int]chan Result
	observers []func(Result)
}

// listenHost keeps the listener off other interfaces; only the local browser redirects here.
const listenHost = "127.0.0.1"

// NewServer creates a listener for path on port. Port 0 picks a free port on Start.
func NewServer(port int, path string) *Server {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Server{
		port:    port,
		path:    path,
		waiters: make(map[int]chan Result),
	}
}

// Start binds the port and begins serving. It returns once the port is bound, so a
// port conflict is reported here as auth.ErrPortInUse. Calling Start on a running
// server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(listenHost, strconv.Itoa(s.port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return auth.NewAuthenticationError(auth.ErrPortInUse, err)
		}
		return auth.NewAuthenticationError(auth.ErrServerStartFailed, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.running = true

	server := s.server
	go func() {
		if errServe := server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("callback server stopped: %v", errServe)
		}
	}()
	log.Debugf("OAuth callback server listening on %s%s", ln.Addr().String(), s.path)
	return nil
}

func (s *Server) handler() http.Handler {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), corsPreflight)
	engine.Any(s.path, s.handleCallback)
	engine.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not found")
	})
	return engine
}

// corsPreflight answers OPTIONS on any path with permissive CORS headers and no body.
func corsPreflight(c *gin.Context) {
	if c.Request.Method != http.MethodOptions {
		c.Next()
		return
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "OPTIONS, GET")
	c.Header("Access-Control-Allow-Headers", "*")
	c.AbortWithStatus(http.StatusOK)
}

func (s *Server) handleCallback(c *gin.Context) {
	result := Result{
		Code:             strings.TrimSpace(c.Query("code")),
		State:            strings.TrimSpace(c.Query("state")),
		Error:            strings.TrimSpace(c.Query("error")),
		ErrorDescription: strings.TrimSpace(c.Query("error_description")),
	}
	entry := logging.Entry(c.Request.Context())

	switch {
	case result.Error != "":
		entry.WithField("error", result.Error).Warn("OAuth callback carried an error")
		s.deliver(result)
		message := result.Error
		if result.ErrorDescription != "" {
			message += ": " + result.ErrorDescription
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(failurePage(message)))
	case result.Code == "":
		entry.Warn("OAuth callback without authorization code")
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(failurePage("No authorization code received")))
	default:
		entry.Debug("OAuth callback received")
		s.deliver(result)
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(loginSuccessHTML))
	}
}

func failurePage(message string) string {
	return strings.Replace(loginFailedHTML, "{{MESSAGE}}", html.EscapeString(message), 1)
}

// deliver hands result to every pending waiter and observer. Waiters are one-shot.
func (s *Server) deliver(result Result) {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = make(map[int]chan Result)
	observers := append([]func(Result){}, s.observers...)
	s.mu.Unlock()

	if len(waiters) == 0 {
		log.Debug("OAuth callback arrived with no session waiting")
	}
	for _, ch := range waiters {
		ch <- result
	}
	for _, fn := range observers {
		fn(result)
	}
}

// Await registers a one-shot waiter for the next redirect. The returned cancel
// unregisters the waiter; it is safe to call more than once and after delivery.
func (s *Server) Await() (<-chan Result, func()) {
	ch := make(chan Result, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.waiters[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}
}

// Waiting returns the number of registered waiters.
func (s *Server) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// OnCallback registers fn to observe every redirect, regardless of waiting sessions.
func (s *Server) OnCallback(fn func(Result)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Port returns the bound port while running, or the configured port otherwise.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Path returns the callback path.
func (s *Server) Path() string { return s.path }

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop gracefully stops the server. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}
