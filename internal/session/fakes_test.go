package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/auth/google"
	"github.com/moneymoves/desklogin/internal/callback"
	"github.com/moneymoves/desklogin/internal/store"
)

type fakeProvider struct {
	validateErr error
	exchangeErr error
	profileErr  error
	profile     auth.Profile
	delay       time.Duration

	validates atomic.Int32
	exchanges atomic.Int32
	codes     chan string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		profile: auth.Profile{UID: "g1", Email: "g@e.com", DisplayName: "G", PhotoURL: "p"},
		codes:   make(chan string, 8),
	}
}

func (p *fakeProvider) Validate() error {
	p.validates.Add(1)
	return p.validateErr
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*google.Tokens, error) {
	p.exchanges.Add(1)
	p.codes <- code
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &google.Tokens{AccessToken: "at1", IDToken: "idt1", ExpiresIn: 3600}, nil
}

func (p *fakeProvider) FetchProfile(context.Context, *google.Tokens) (auth.Profile, error) {
	if p.profileErr != nil {
		return auth.Profile{}, p.profileErr
	}
	return p.profile, nil
}

type fakeMinter struct {
	err error
}

func (m *fakeMinter) Mint(_ context.Context, profile auth.Profile) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "custom-" + profile.UID, nil
}

// fakeListener records waiters so tests can deliver redirects and check teardown.
type fakeListener struct {
	startErr error
	starts   atomic.Int32

	mu      sync.Mutex
	next    int
	waiters map[int]chan callback.Result
}

func newFakeListener() *fakeListener {
	return &fakeListener{waiters: make(map[int]chan callback.Result)}
}

func (l *fakeListener) Start() error {
	l.starts.Add(1)
	return l.startErr
}

func (l *fakeListener) Await() (<-chan callback.Result, func()) {
	ch := make(chan callback.Result, 1)
	l.mu.Lock()
	l.next++
	id := l.next
	l.waiters[id] = ch
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.waiters, id)
		l.mu.Unlock()
	}
}

func (l *fakeListener) deliver(r callback.Result) int {
	l.mu.Lock()
	waiters := l.waiters
	l.waiters = make(map[int]chan callback.Result)
	l.mu.Unlock()
	for _, ch := range waiters {
		ch <- r
	}
	return len(waiters)
}

func (l *fakeListener) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// flakyStore fails subscriptions and the first few reads.
type flakyStore struct {
	failReads int32
	reads     atomic.Int32
	record    *store.Record
}

func (f *flakyStore) Subscribe(context.Context, string, func(*store.Record)) (store.Unsubscribe, error) {
	return nil, errors.New("streaming not supported")
}

func (f *flakyStore) ReadOnce(context.Context, string) (*store.Record, error) {
	n := f.reads.Add(1)
	if n <= f.failReads {
		return nil, errors.New("connection reset")
	}
	return f.record, nil
}

type openerSpy struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *openerSpy) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return o.err
}

func (o *openerSpy) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

type settleCounter struct {
	calls atomic.Int32
}

func (c *settleCounter) hook(string, *auth.Credential, error) { c.calls.Add(1) }

func fixedID(id string) func() string { return func() string { return id } }

func testOptions(counter *settleCounter) Options {
	opts := Options{
		LoginPageURL:    "https://login.example.com/login",
		Timeout:         5 * time.Second,
		PollInterval:    10 * time.Millisecond,
		MaxPolls:        300,
		DeleteOnResolve: true,
	}
	if counter != nil {
		opts.OnSettle = counter.hook
	}
	return opts
}

func waitResult(t *testing.T, s *Session) (*auth.Credential, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cred, err := s.Wait(ctx)
	if errors.Is(err, auth.ErrSessionCancelled) && ctx.Err() != nil {
		t.Fatalf("session did not settle in time")
	}
	return cred, err
}

func waitCleaned(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.cleaned:
	case <-time.After(5 * time.Second):
		t.Fatalf("cleanup did not finish")
	}
}
