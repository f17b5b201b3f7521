package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/auth/google"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/session"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// Sessions starts login sessions on behalf of bridge clients.
type Sessions interface {
	NewSessionID() string
	Begin(ctx context.Context, opts session.BeginOptions) (*session.Session, error)
}

// Verifier checks an ID token handed over by the UI.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (*auth.Credential, error)
}

// Callbacks reports every redirect the callback listener receives.
type Callbacks interface {
	OnCallback(fn func(callback.Result))
}

// Profiles loads a provider profile for an access token obtained by the UI.
type Profiles interface {
	FetchProfile(ctx context.Context, tokens *google.Tokens) (auth.Profile, error)
}

// Deps are the services a bridge maps requests onto. Only Sessions is required; a nil
// Verifier, Profiles or Minter disables the requests that need it.
type Deps struct {
	Sessions  Sessions
	Verifier  Verifier
	Callbacks Callbacks
	Profiles  Profiles
	Minter    session.Minter
}

// Options configures the bridge endpoint.
type Options struct {
	// Path is the HTTP path that upgrades to a websocket.
	Path string
	// AllowedOrigins are browser origins admitted besides file:// pages.
	AllowedOrigins []string
	// MockFallback answers a failed sign-in-with-google-token with the development identity.
	MockFallback bool
}

// mockFirebaseToken is handed out with the development identity.
const mockFirebaseToken = "dev-mock-token"

// Bridge serves the websocket endpoint and maps requests onto the coordinator.
type Bridge struct {
	sessions Sessions
	verifier Verifier
	profiles Profiles
	minter   session.Minter
	mock     bool
	hub      *Hub
	path     string

	// ctx outlives individual connections; sessions started by a client keep running
	// after it disconnects.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*session.Session
	server *http.Server
	ln     net.Listener
}

// NewBridge wires a bridge.
func NewBridge(deps Deps, opts Options) *Bridge {
	path := opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		sessions: deps.Sessions,
		verifier: deps.Verifier,
		profiles: deps.Profiles,
		minter:   deps.Minter,
		mock:     opts.MockFallback,
		path:     path,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*session.Session),
	}
	b.hub = NewHub(b.handle, opts.AllowedOrigins)
	if deps.Callbacks != nil {
		deps.Callbacks.OnCallback(b.forwardCallback)
	}
	return b
}

// Hub returns the underlying client hub.
func (b *Bridge) Hub() *Hub { return b.hub }

// Handler returns the HTTP handler serving the websocket endpoint.
func (b *Bridge) Handler() http.Handler {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET(b.path, func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		b.hub.ServeHTTP(c.Writer, c.Request)
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": b.hub.Clients()})
	})
	return engine
}

// Start binds port on loopback and serves until Stop.
func (b *Bridge) Start(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return auth.NewAuthenticationError(auth.ErrPortInUse, err)
		}
		return auth.NewAuthenticationError(auth.ErrServerStartFailed, err)
	}
	b.ln = ln
	b.server = &http.Server{Handler: b.Handler(), ReadHeaderTimeout: 10 * time.Second}
	server := b.server
	go func() {
		if errServe := server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("ipc bridge stopped: %v", errServe)
		}
	}()
	log.Infof("IPC bridge listening on ws://%s%s", ln.Addr().String(), b.path)
	return nil
}

// Addr returns the bound address, or "" when not started.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

// Stop cancels every session started through the bridge and closes all clients.
func (b *Bridge) Stop(ctx context.Context) error {
	b.cancel()
	b.mu.Lock()
	server := b.server
	b.server, b.ln = nil, nil
	sessions := make([]*session.Session, 0, len(b.active))
	for _, s := range b.active {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
	_ = b.hub.Stop(ctx)
	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (b *Bridge) handle(ctx context.Context, msg Message) (map[string]any, error) {
	switch msg.Type {
	case RequestGenerateSessionID:
		return map[string]any{"sessionId": b.sessions.NewSessionID()}, nil
	case RequestOpenAuthWindow:
		id := payloadString(msg.Payload, "sessionId")
		if id == "" {
			return nil, fmt.Errorf("sessionId is required")
		}
		s, err := b.begin(session.BeginOptions{SessionID: id, HandoffOnly: true, NoLaunch: true})
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessionId": s.ID(), "url": s.LoginURL()}, nil
	case RequestStartSession:
		s, err := b.begin(session.BeginOptions{NoLaunch: payloadBool(msg.Payload, "noLaunch")})
		if err != nil {
			return nil, err
		}
		url := s.AuthURL()
		if url == "" {
			url = s.LoginURL()
		}
		return map[string]any{"sessionId": s.ID(), "url": url, "loginUrl": s.LoginURL()}, nil
	case RequestCancelSession:
		id := payloadString(msg.Payload, "sessionId")
		b.mu.Lock()
		s := b.active[id]
		b.mu.Unlock()
		if s == nil {
			return nil, fmt.Errorf("no active session %q", id)
		}
		s.Cancel()
		return map[string]any{"sessionId": id}, nil
	case RequestSignInWithToken:
		if b.verifier == nil {
			return nil, auth.NewAuthenticationError(auth.ErrConfiguration, fmt.Errorf("token verification is not configured"))
		}
		token := payloadString(msg.Payload, "token")
		if token == "" {
			return nil, fmt.Errorf("token is required")
		}
		log.Debugf("verifying bridge token %s", util.HideToken(token))
		cred, err := b.verifier.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return map[string]any{"user": cred}, nil
	case RequestSignInWithGoogleToken:
		accessToken := payloadString(msg.Payload, "accessToken")
		if accessToken == "" {
			return nil, fmt.Errorf("accessToken is required")
		}
		return b.signInWithGoogleToken(ctx, accessToken)
	default:
		return nil, fmt.Errorf("unsupported request %q", msg.Type)
	}
}

// begin starts a session under the bridge context and reports its outcome as an event.
// A session reusing the id of a live one replaces it.
func (b *Bridge) begin(opts session.BeginOptions) (*session.Session, error) {
	s, err := b.sessions.Begin(b.ctx, opts)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	previous := b.active[s.ID()]
	b.active[s.ID()] = s
	b.mu.Unlock()
	if previous != nil && previous != s {
		previous.Cancel()
	}
	go b.watch(s)
	return s, nil
}

func (b *Bridge) watch(s *session.Session) {
	<-s.Done()
	b.mu.Lock()
	if b.active[s.ID()] == s {
		delete(b.active, s.ID())
	}
	b.mu.Unlock()

	cred, err := s.Result()
	if err != nil {
		b.hub.Broadcast(Message{Type: EventAuthError, Payload: map[string]any{
			"sessionId": s.ID(),
			"error":     auth.GetUserFriendlyMessage(err),
		}})
		return
	}
	b.hub.Broadcast(Message{Type: EventAuthTokenReceived, Payload: map[string]any{
		"sessionId": s.ID(),
		"token":     cred.Token,
		"user":      cred,
	}})
}

// signInWithGoogleToken loads the profile behind an access token the UI obtained itself
// and mints a credential for it.
func (b *Bridge) signInWithGoogleToken(ctx context.Context, accessToken string) (map[string]any, error) {
	var (
		profile auth.Profile
		token   string
		err     error
	)
	if b.profiles == nil || b.minter == nil {
		err = auth.NewAuthenticationError(auth.ErrConfiguration, fmt.Errorf("credential minting is not configured"))
	} else if profile, err = b.profiles.FetchProfile(ctx, &google.Tokens{AccessToken: accessToken}); err == nil {
		token, err = b.minter.Mint(ctx, profile)
	}
	if err != nil {
		if !b.mock || ctx.Err() != nil {
			return nil, err
		}
		log.WithError(err).Warn("google token sign-in failed, answering with the development identity")
		return map[string]any{"firebaseToken": mockFirebaseToken, "userProfile": auth.MockProfile(), "mock": true}, nil
	}
	return map[string]any{"firebaseToken": token, "userProfile": profile}, nil
}

func (b *Bridge) forwardCallback(result callback.Result) {
	if result.Error != "" {
		b.hub.Broadcast(Message{Type: EventAuthError, Payload: map[string]any{"error": result.Error, "state": result.State}})
		return
	}
	b.hub.Broadcast(Message{Type: EventOAuthReply, Payload: map[string]any{"code": result.Code, "state": result.State}})
}

func payloadString(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return strings.TrimSpace(v)
}

func payloadBool(payload map[string]any, key string) bool {
	v, _ := payload[key].(bool)
	return v
}
