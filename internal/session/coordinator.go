// Package session coordinates one desktop login attempt. A session races two strategies
// against each other: the OAuth redirect caught by the local callback listener, and the
// handoff record a companion login page writes to the shared token store. The first
// strategy to produce a complete credential settles the session; everything the session
// holds is released before the result becomes visible to the caller.
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/auth/google"
	"github.com/moneymoves/desklogin/internal/browser"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/misc"
	"github.com/moneymoves/desklogin/internal/store"
)

// Provider is the identity provider client used by the redirect strategy.
type Provider interface {
	Validate() error
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*google.Tokens, error)
	FetchProfile(ctx context.Context, tokens *google.Tokens) (auth.Profile, error)
}

// Minter turns a provider profile into a verifiable credential.
type Minter interface {
	Mint(ctx context.Context, profile auth.Profile) (string, error)
}

// Listener is the process-wide callback listener.
type Listener interface {
	Start() error
	Await() (<-chan callback.Result, func())
}

// Deps is the service context a coordinator is built from. Only Provider is required.
type Deps struct {
	Provider Provider
	// Minter is optional; without it redirect credentials are delivered unverified.
	Minter Minter
	// Store is the token store. Nil and store.Unavailable disable the handoff strategy.
	Store store.Adapter
	// Listener is optional; without it the redirect strategy is disabled.
	Listener Listener
	// Opener launches the browser. Nil launches nothing.
	Opener browser.Opener
	// Policy is config.FallbackStrict or config.FallbackMock.
	Policy string
	// NewID generates session identifiers. Nil uses misc.GenerateSessionID.
	NewID func() string
}

// Launch targets.
const (
	LaunchRedirect = "redirect"
	LaunchHandoff  = "handoff"
	LaunchBoth     = "both"
)

// Options tunes session timing and behaviour.
type Options struct {
	LoginPageURL string
	KeyPrefix    string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
	// PollTimeout bounds a single poll.
	PollTimeout time.Duration
	// Launch selects which URL the browser opens. Empty behaves like LaunchRedirect.
	Launch string
	// DeleteOnResolve removes the session record once the session is terminal.
	DeleteOnResolve bool
	// CleanupTimeout bounds the record deletion.
	CleanupTimeout time.Duration
	// OnSettle is called exactly once per session with its outcome.
	OnSettle func(sessionID string, cred *auth.Credential, err error)
}

// OptionsFromConfig derives coordinator options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	deleteOnResolve := true
	if cfg.Session.DeleteOnResolve != nil {
		deleteOnResolve = *cfg.Session.DeleteOnResolve
	}
	return Options{
		LoginPageURL:    cfg.LoginPageURL,
		KeyPrefix:       cfg.Session.KeyPrefix,
		Timeout:         cfg.Session.Timeout(),
		PollInterval:    cfg.Session.PollInterval(),
		MaxPolls:        cfg.Session.MaxPolls,
		PollTimeout:     cfg.RequestTimeout(),
		Launch:          cfg.Launch,
		DeleteOnResolve: deleteOnResolve,
	}
}

func (o *Options) applyDefaults() {
	if o.LoginPageURL == "" {
		o.LoginPageURL = config.DefaultLoginPageURL
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = config.DefaultKeyPrefix
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(config.DefaultTimeoutSeconds) * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Duration(config.DefaultPollIntervalMillis) * time.Millisecond
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = config.DefaultMaxPolls
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = config.DefaultRequestTimeout
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 5 * time.Second
	}
	o.Launch = strings.ToLower(strings.TrimSpace(o.Launch))
}

// Coordinator starts login sessions.
type Coordinator struct {
	deps Deps
	opts Options
}

// NewCoordinator returns a coordinator over deps.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	opts.applyDefaults()
	if deps.NewID == nil {
		deps.NewID = misc.GenerateSessionID
	}
	if deps.Policy == "" {
		deps.Policy = config.FallbackStrict
	}
	return &Coordinator{deps: deps, opts: opts}
}

// Options returns the effective options.
func (c *Coordinator) Options() Options { return c.opts }

// NewSessionID returns a fresh session identifier.
func (c *Coordinator) NewSessionID() string { return c.deps.NewID() }

// LoginURL returns the companion page URL for sessionID. The identifier is carried
// percent-encoded in the sessionId query parameter.
func (c *Coordinator) LoginURL(sessionID string) (string, error) {
	return buildLoginURL(c.opts.LoginPageURL, sessionID)
}

func buildLoginURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid login page URL %q: %w", base, err)
	}
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BeginOptions adjusts a single session.
type BeginOptions struct {
	// SessionID reuses an identifier handed out earlier. Empty generates a fresh one.
	SessionID string
	// HandoffOnly disables the redirect strategy.
	HandoffOnly bool
	// NoLaunch skips the browser; the caller opens LoginURL or AuthURL itself.
	NoLaunch bool
}

// StartSession runs one login attempt to completion.
func (c *Coordinator) StartSession(ctx context.Context) (*auth.Credential, error) {
	s, err := c.Begin(ctx, BeginOptions{})
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx)
}

// Begin arms a session and returns without waiting for it. Configuration problems are
// reported before any network call or browser launch. Under the mock policy they yield
// a session already resolved with the development identity.
func (c *Coordinator) Begin(ctx context.Context, opts BeginOptions) (*Session, error) {
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		id = c.deps.NewID()
	}
	if strings.ContainsAny(id, "/.#$[]") {
		return nil, fmt.Errorf("invalid session id %q", id)
	}

	s := newSession(c, id)
	entry := logging.Entry(s.ctx)

	loginURL, err := buildLoginURL(c.opts.LoginPageURL, id)
	if err != nil {
		return nil, err
	}
	s.loginURL = loginURL

	if !opts.HandoffOnly && c.deps.Provider != nil {
		if errValidate := c.deps.Provider.Validate(); errValidate != nil {
			if c.deps.Policy == config.FallbackMock {
				entry.WithError(errValidate).Warn("identity provider not configured, using mock identity")
				s.resolve(mockCredential(), "mock")
				return s, nil
			}
			s.discard()
			return nil, errValidate
		}
	}

	s.begin(ctx)

	redirect := !opts.HandoffOnly && c.deps.Listener != nil && c.deps.Provider != nil
	if redirect {
		if errStart := c.deps.Listener.Start(); errStart != nil {
			entry.WithError(errStart).Warn("callback listener unavailable, redirect sign-in disabled")
			redirect = false
		}
	}
	handoff := !store.IsUnavailable(c.deps.Store)
	if !handoff {
		entry.Warn("token store unavailable, handoff sign-in disabled")
	}

	if !redirect && !handoff {
		var cause error = fmt.Errorf("no sign-in path available")
		if unavailable, ok := c.deps.Store.(store.Unavailable); ok && unavailable.Cause != nil {
			cause = unavailable.Cause
		}
		cause = auth.NewAuthenticationError(auth.ErrStoreUnavailable, cause)
		s.fail(cause, StateFailed)
		return s, nil
	}

	s.setState(StateAwaiting)
	if redirect {
		s.authURL = c.deps.Provider.AuthCodeURL(id)
		s.startRedirect()
	}
	if handoff {
		s.startHandoff()
	}
	s.armTimeout(c.opts.Timeout)

	if !opts.NoLaunch {
		s.launch(redirect, handoff)
	}
	entry.WithField("state", s.State().String()).Infof("sign-in session started (redirect=%t, handoff=%t)", redirect, handoff)
	return s, nil
}

func mockCredential() *auth.Credential {
	return &auth.Credential{Profile: auth.MockProfile(), Unverified: true, Source: auth.SourceMock}
}
