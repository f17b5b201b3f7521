package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/misc"
	"github.com/moneymoves/desklogin/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Session is one in-flight login attempt.
type Session struct {
	c        *Coordinator
	id       string
	key      string
	loginURL string
	authURL  string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	res    *resources

	// manual carries callback URLs pasted by the user into the redirect strategy.
	manual chan callback.Result

	mu    sync.Mutex
	state State
	cred  *auth.Credential
	err   error

	once    sync.Once
	done    chan struct{}
	cleaned chan struct{}
	started bool
}

func newSession(c *Coordinator, id string) *Session {
	ctx, cancel := context.WithCancel(logging.WithSessionID(context.Background(), id))
	return &Session{
		c:       c,
		id:      id,
		key:     store.SessionKey(c.opts.KeyPrefix, id),
		ctx:     ctx,
		cancel:  cancel,
		res:     newResources(),
		manual:  make(chan callback.Result, 1),
		done:    make(chan struct{}),
		cleaned: make(chan struct{}),
	}
}

// begin ties the session to parent and prepares the strategy group.
func (s *Session) begin(parent context.Context) {
	s.started = true
	s.res.add("context", s.cancel)
	if parent != nil && parent.Done() != nil {
		stop := context.AfterFunc(parent, func() {
			s.fail(auth.NewAuthenticationError(auth.ErrSessionCancelled, context.Cause(parent)), StateFailed)
		})
		s.res.add("parent", func() { stop() })
	}
	// Strategies report their outcome through settle, not through the group, so the
	// group only joins them in Wait; s.ctx is what cancels them.
	s.group = new(errgroup.Group)
}

// discard drops a session that never started.
func (s *Session) discard() {
	s.cancel()
	close(s.cleaned)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Key returns the token store key watched by the handoff strategy.
func (s *Session) Key() string { return s.key }

// LoginURL returns the companion page URL carrying the session identifier.
func (s *Session) LoginURL() string { return s.loginURL }

// AuthURL returns the provider authorization URL, or "" when the redirect strategy is off.
func (s *Session) AuthURL() string { return s.authURL }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live returns the names of resources the session still holds. It is empty once the
// session is terminal.
func (s *Session) Live() []string { return s.res.names() }

// Done is closed when the session settles.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the outcome of a settled session.
func (s *Session) Result() (*auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.err
}

// Wait blocks until the session settles or ctx ends. When ctx ends first the session
// is cancelled.
func (s *Session) Wait(ctx context.Context) (*auth.Credential, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.fail(auth.NewAuthenticationError(auth.ErrSessionCancelled, ctx.Err()), StateFailed)
		<-s.done
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	return s.Result()
}

// Cancel tears the session down. It is idempotent and a no-op once settled.
func (s *Session) Cancel() {
	s.fail(auth.NewAuthenticationError(auth.ErrSessionCancelled, nil), StateFailed)
}

// SubmitCallbackURL feeds a redirect URL pasted by the user into the redirect strategy,
// for setups where the browser cannot reach the local listener.
func (s *Session) SubmitCallbackURL(raw string) error {
	if s.authURL == "" {
		return fmt.Errorf("redirect sign-in is not active for this session")
	}
	parsed, err := misc.ParseOAuthCallback(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("empty callback URL")
	}
	if parsed.Code == "" && parsed.Error == "" {
		return fmt.Errorf("code not found in callback")
	}
	if parsed.State != s.id {
		return fmt.Errorf("callback state does not match this session")
	}
	result := callback.Result{Code: parsed.Code, State: parsed.State, Error: parsed.Error, ErrorDescription: parsed.ErrorDescription}
	select {
	case <-s.done:
		return fmt.Errorf("session already finished")
	default:
	}
	select {
	case s.manual <- result:
		return nil
	default:
		return fmt.Errorf("a callback is already being processed")
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = state
	}
}

// resolve settles the session with cred. Incomplete credentials are refused.
func (s *Session) resolve(cred *auth.Credential, strategy string) bool {
	if !cred.Complete() {
		logging.Entry(s.ctx).WithField("strategy", strategy).Warn("refusing to deliver an incomplete credential")
		return false
	}
	return s.settle(cred, nil, StateResolved, strategy)
}

// fail settles the session with err. Under the mock policy, provider and availability
// failures resolve with the development identity instead.
func (s *Session) fail(err error, state State) bool {
	if state == StateFailed && s.c.deps.Policy == config.FallbackMock && mockable(err) {
		logging.Entry(s.ctx).WithError(err).Warn("sign-in failed, using mock identity")
		return s.settle(mockCredential(), nil, StateResolved, "mock")
	}
	return s.settle(nil, err, state, "")
}

func mockable(err error) bool {
	return errors.Is(err, auth.ErrProvider) ||
		errors.Is(err, auth.ErrConfiguration) ||
		errors.Is(err, auth.ErrStoreUnavailable) ||
		errors.Is(err, auth.ErrCallbackFailed)
}

// settle assigns the single result. Everything the session holds is released before
// Wait can observe the result. Later calls are discarded.
func (s *Session) settle(cred *auth.Credential, err error, state State, strategy string) bool {
	first := false
	s.once.Do(func() {
		first = true
		s.mu.Lock()
		s.state = state
		s.cred = cred
		s.err = err
		s.mu.Unlock()

		s.res.closeAll()

		entry := logging.Entry(s.ctx).WithField("state", state.String())
		if strategy != "" {
			entry = entry.WithField("strategy", strategy)
		}
		if err != nil {
			entry.WithError(err).Warn("sign-in session ended")
		} else {
			entry.WithField("source", cred.Source).Infof("sign-in session resolved for %s", cred.Email)
		}

		if s.c.opts.OnSettle != nil {
			s.c.opts.OnSettle(s.id, cred, err)
		}
		close(s.done)
		go s.cleanup()
	})
	if !first {
		logging.Entry(s.ctx).WithField("strategy", strategy).Debug("discarding late resolution")
	}
	return first
}

// cleanup deletes the session record once the session is terminal.
func (s *Session) cleanup() {
	defer close(s.cleaned)
	if !s.started || !s.c.opts.DeleteOnResolve || store.IsUnavailable(s.c.deps.Store) {
		return
	}
	deleter, ok := s.c.deps.Store.(store.Deleter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.c.opts.CleanupTimeout)
	defer cancel()
	if err := deleter.Delete(ctx, s.key); err != nil {
		log.WithField(logging.SessionIDField, s.id).WithField("key", s.key).WithError(err).Debug("session record cleanup failed")
	}
}

func (s *Session) armTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.settle(nil, auth.NewAuthenticationError(auth.ErrSessionTimeout, fmt.Errorf("no sign-in within %s", d)), StateTimedOut, "timeout")
	})
	s.res.add("timeout", func() { timer.Stop() })
}

// launch opens the browser at the URL selected by the launch option.
func (s *Session) launch(redirect, handoff bool) {
	opener := s.c.deps.Opener
	if opener == nil {
		return
	}
	var targets []string
	switch s.c.opts.Launch {
	case LaunchBoth:
		if redirect {
			targets = append(targets, s.authURL)
		}
		if handoff {
			targets = append(targets, s.loginURL)
		}
	case LaunchHandoff:
		if handoff {
			targets = append(targets, s.loginURL)
		} else {
			targets = append(targets, s.authURL)
		}
	default:
		if redirect {
			targets = append(targets, s.authURL)
		} else {
			targets = append(targets, s.loginURL)
		}
	}
	for _, target := range targets {
		if err := opener.Open(target); err != nil {
			authErr := auth.NewAuthenticationError(auth.ErrBrowserOpenFailed, err)
			logging.Entry(s.ctx).Warn(auth.GetUserFriendlyMessage(authErr))
		}
	}
}
