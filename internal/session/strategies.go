package session

import (
	"context"
	"errors"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/logging"
	"github.com/moneymoves/desklogin/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	strategyRedirect = "redirect"
	strategyHandoff  = "handoff"
)

// startRedirect waits for the OAuth redirect and redeems its code.
// The waiter is registered before Begin returns, so a redirect cannot slip past it.
func (s *Session) startRedirect() {
	results := s.await()
	s.group.Go(func() error {
		s.runRedirect(s.ctx, results)
		return nil
	})
}

func (s *Session) await() <-chan callback.Result {
	ch, cancel := s.c.deps.Listener.Await()
	s.res.add("callback", cancel)
	return ch
}

func (s *Session) runRedirect(ctx context.Context, results <-chan callback.Result) {
	entry := logging.Entry(ctx).WithField("strategy", strategyRedirect)
	for {
		var result callback.Result
		select {
		case <-ctx.Done():
			return
		case result = <-results:
		case result = <-s.manual:
		}

		if result.State != s.id {
			// Another session's redirect, a stale tab, or a request that never went
			// through the consent screen.
			entry.WithField("state", logging.ShortSessionID(result.State)).Warn("ignoring callback whose state does not match the session")
			results = s.await()
			continue
		}
		s.res.release("callback")

		if result.Error != "" {
			cause := auth.NewOAuthError(result.Error, result.ErrorDescription, 0)
			s.fail(auth.NewAuthenticationError(auth.ErrCallbackFailed, cause), StateFailed)
			return
		}

		s.setState(StateResolving)
		cred, err := s.redeem(ctx, result.Code)
		if ctx.Err() != nil {
			// The sibling strategy or the timeout won while the code was being redeemed.
			return
		}
		if err != nil {
			s.fail(err, StateFailed)
			return
		}
		s.resolve(cred, strategyRedirect)
		return
	}
}

// redeem exchanges code, fetches the profile and mints a credential. A mint failure
// degrades to an unverified credential built from the provider profile.
func (s *Session) redeem(ctx context.Context, code string) (*auth.Credential, error) {
	entry := logging.Entry(ctx).WithField("strategy", strategyRedirect)
	provider := s.c.deps.Provider

	tokens, err := provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	profile, err := provider.FetchProfile(ctx, tokens)
	if err != nil {
		return nil, err
	}

	cred := &auth.Credential{Profile: profile, Source: auth.SourceRedirect}
	if s.c.deps.Minter == nil {
		entry.Warn("no credential minter configured, delivering unverified profile")
		cred.Unverified = true
		return cred, nil
	}
	token, err := s.c.deps.Minter.Mint(ctx, profile)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entry.WithError(err).Warn("credential minting failed, delivering unverified profile")
		cred.Unverified = true
		return cred, nil
	}
	cred.Token = token
	return cred, nil
}

// startHandoff subscribes to the session record and polls it as a redundancy path.
func (s *Session) startHandoff() {
	adapter := s.c.deps.Store
	entry := logging.Entry(s.ctx).WithFields(log.Fields{"strategy": strategyHandoff, "key": s.key})

	unsubscribe, err := adapter.Subscribe(s.ctx, s.key, s.onRecord)
	if err != nil {
		entry.WithError(err).Warn("store subscription failed, relying on polling")
	} else {
		s.res.add("subscription", func() { unsubscribe() })
	}

	ticker := time.NewTicker(s.c.opts.PollInterval)
	s.res.add("poll", ticker.Stop)
	s.group.Go(func() error {
		s.runPoll(s.ctx, ticker)
		return nil
	})
}

func (s *Session) onRecord(rec *store.Record) {
	if !rec.Ready() {
		return
	}
	cred := rec.Credential()
	if cred == nil {
		logging.Entry(s.ctx).WithField("strategy", strategyHandoff).Warn("session record has a token but no user id, ignoring")
		return
	}
	s.resolve(cred, strategyHandoff)
}

func (s *Session) runPoll(ctx context.Context, ticker *time.Ticker) {
	entry := logging.Entry(ctx).WithFields(log.Fields{"strategy": strategyHandoff, "key": s.key})
	var lastErr error
	for poll := 1; poll <= s.c.opts.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pollCtx, cancel := context.WithTimeout(ctx, s.c.opts.PollTimeout)
		rec, err := s.c.deps.Store.ReadOnce(pollCtx, s.key)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			lastErr = auth.NewAuthenticationError(auth.ErrTransientPoll, err)
			entry.WithField("poll", poll).WithError(err).Debug("store poll failed")
			if errors.Is(err, auth.ErrStoreUnavailable) {
				break
			}
			continue
		}
		lastErr = nil
		s.onRecord(rec)
	}
	s.res.release("poll")

	if lastErr != nil && len(s.Live()) > 0 && !s.hasPath() {
		s.fail(lastErr, StateFailed)
		return
	}
	entry.Debug("store poll budget exhausted")
}

// hasPath reports whether a push-based path is still armed or a code is being redeemed.
func (s *Session) hasPath() bool {
	if s.State() == StateResolving {
		return true
	}
	for _, name := range s.Live() {
		if name == "subscription" || name == "callback" {
			return true
		}
	}
	return false
}
