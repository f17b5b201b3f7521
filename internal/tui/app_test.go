package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/session"
	"github.com/moneymoves/desklogin/internal/store"
	log "github.com/sirupsen/logrus"
)

type fakeClipboard struct {
	written string
	content string
	err     error
}

func (c *fakeClipboard) WriteAll(text string) error {
	if c.err != nil {
		return c.err
	}
	c.written = text
	return nil
}

func (c *fakeClipboard) ReadAll() (string, error) { return c.content, c.err }

type failingStarter struct{ err error }

func (f failingStarter) Begin(context.Context, session.BeginOptions) (*session.Session, error) {
	return nil, f.err
}

func newHandoffStarter(mem *store.MemoryStore) *session.Coordinator {
	return session.NewCoordinator(
		session.Deps{Store: mem, NewID: func() string { return "abc123" }},
		session.Options{LoginPageURL: "https://login.example.com/login", PollInterval: 10 * time.Millisecond},
	)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, a App, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	model, cmd := a.Update(msg)
	next, ok := model.(App)
	if !ok {
		t.Fatalf("Update returned %T", model)
	}
	return next, cmd
}

// sessionMsg runs cmd, expanding batches, and returns the first session message.
func sessionMsg(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("command did not return")
	}
	switch m := msg.(type) {
	case tea.BatchMsg:
		for _, c := range m {
			if c == nil {
				continue
			}
			switch inner := c().(type) {
			case sessionStartedMsg, sessionDoneMsg:
				return inner
			}
		}
		t.Fatalf("batch carried no session message")
	case sessionStartedMsg, sessionDoneMsg:
		return m
	}
	t.Fatalf("unexpected message %T", msg)
	return nil
}

func TestLoginFlow(t *testing.T) {
	mem := store.NewMemoryStore()
	clip := &fakeClipboard{}
	var signedIn *auth.Credential
	signedOut := false
	a := NewApp(newHandoffStarter(mem), Options{
		OnSignedIn:  func(c *auth.Credential) { signedIn = c },
		OnSignedOut: func() { signedOut = true },
		Clipboard:   clip,
	}, nil)

	if !strings.Contains(a.View(), T("signed_out")) {
		t.Fatalf("initial view should be signed out:\n%s", a.View())
	}

	a, cmd := update(t, a, key("enter"))
	if a.state != stateStarting {
		t.Fatalf("state = %d, want starting", a.state)
	}
	a, cmd = update(t, a, sessionMsg(t, cmd))
	if a.state != stateWaiting {
		t.Fatalf("state = %d, want waiting (err %v)", a.state, a.err)
	}
	if view := a.View(); !strings.Contains(view, "sessionId=abc123") {
		t.Fatalf("waiting view should show the login URL:\n%s", view)
	}

	a, _ = update(t, a, key("c"))
	if !strings.Contains(clip.written, "sessionId=abc123") || a.notice != T("copied") {
		t.Fatalf("copy wrote %q, notice %q", clip.written, a.notice)
	}

	record := `{"idToken":"tok1","user":{"uid":"u1","email":"a@b.com","displayName":"Ada"}}`
	if err := mem.PutRaw(context.Background(), "sessions/abc123", []byte(record)); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}
	a, _ = update(t, a, sessionMsg(t, cmd))
	if a.state != stateSignedIn || signedIn == nil || signedIn.UID != "u1" {
		t.Fatalf("state = %d, credential %+v", a.state, signedIn)
	}
	view := a.View()
	if !strings.Contains(view, "a@b.com") || !strings.Contains(view, "Ada") {
		t.Fatalf("profile missing from view:\n%s", view)
	}
	if strings.Contains(view, T("unverified")) {
		t.Fatalf("verified credential must not carry the unverified marker")
	}

	a, _ = update(t, a, key("l"))
	if a.state != stateSignedOut || a.cred != nil || !signedOut {
		t.Fatalf("logout did not discard the credential (state %d)", a.state)
	}
}

func TestCancelWhileWaitingThenRetry(t *testing.T) {
	mem := store.NewMemoryStore()
	a := NewApp(newHandoffStarter(mem), Options{Clipboard: &fakeClipboard{}}, nil)

	a, cmd := update(t, a, key("enter"))
	a, cmd = update(t, a, sessionMsg(t, cmd))
	a, _ = update(t, a, key("esc"))
	a, _ = update(t, a, sessionMsg(t, cmd))

	if a.state != stateFailed || !errors.Is(a.err, auth.ErrSessionCancelled) {
		t.Fatalf("state = %d, err %v", a.state, a.err)
	}
	if !strings.Contains(a.View(), auth.GetUserFriendlyMessage(a.err)) {
		t.Fatalf("failure text missing:\n%s", a.View())
	}

	a, cmd = update(t, a, key("enter"))
	if a.state != stateStarting || cmd == nil {
		t.Fatalf("enter should retry from the failed state")
	}
	a, _ = update(t, a, sessionMsg(t, cmd))
	if a.session == nil {
		t.Fatalf("retry did not start a session")
	}
	a.session.Cancel()
}

func TestStartFailureShowsFriendlyMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "Configuration", err: auth.NewAuthenticationError(auth.ErrConfiguration, errors.New("client id missing"))},
		{name: "PortInUse", err: auth.NewAuthenticationError(auth.ErrPortInUse, nil)},
	}
	seen := map[string]bool{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewApp(failingStarter{err: tt.err}, Options{Clipboard: &fakeClipboard{}}, nil)
			a, cmd := update(t, a, key("enter"))
			a, _ = update(t, a, sessionMsg(t, cmd))
			if a.state != stateFailed {
				t.Fatalf("state = %d", a.state)
			}
			msg := auth.GetUserFriendlyMessage(tt.err)
			if !strings.Contains(a.View(), msg) {
				t.Fatalf("view lacks %q:\n%s", msg, a.View())
			}
			if seen[msg] {
				t.Fatalf("failure kinds must have distinct messages, %q repeated", msg)
			}
			seen[msg] = true
		})
	}
}

func TestPasteCallbackURL(t *testing.T) {
	mem := store.NewMemoryStore()
	clip := &fakeClipboard{content: "http://localhost:14500/oauth?code=x&state=abc123"}
	a := NewApp(newHandoffStarter(mem), Options{Clipboard: clip}, nil)
	a, cmd := update(t, a, key("enter"))
	a, _ = update(t, a, sessionMsg(t, cmd))
	defer a.session.Cancel()

	// The redirect strategy is off without a provider, so the paste is refused.
	a, _ = update(t, a, key("v"))
	if !strings.HasPrefix(a.notice, strings.SplitN(T("paste_failed"), "%", 2)[0]) {
		t.Fatalf("notice = %q", a.notice)
	}
}

func TestUnverifiedMarker(t *testing.T) {
	a := NewApp(failingStarter{}, Options{}, nil)
	a.state = stateSignedIn
	a.cred = &auth.Credential{Profile: auth.MockProfile(), Unverified: true, Source: auth.SourceMock}
	view := a.View()
	if !strings.Contains(view, T("unverified")) || !strings.Contains(view, T("mock")) {
		t.Fatalf("markers missing:\n%s", view)
	}
}

func TestLocaleToggle(t *testing.T) {
	defer SetLocale("en")
	a := NewApp(failingStarter{}, Options{}, nil)
	a, _ = update(t, a, key("L"))
	if CurrentLocale() != "zh" || !strings.Contains(a.View(), zhStrings["signed_out"]) {
		t.Fatalf("locale = %s", CurrentLocale())
	}
	if T("no-such-key") != "no-such-key" {
		t.Fatalf("unknown keys fall back to the key")
	}
}

func TestLineLevel(t *testing.T) {
	tests := map[string]string{
		"[2026-10-19 10:00:00] [abc12345] [debug] [a.go:1] x": "debug",
		"[2026-10-19 10:00:00] [abc12345] [info ] [a.go:1] x": "info",
		"[2026-10-19 10:00:00] [abc12345] [warn ] [a.go:1] x": "warn",
		"[2026-10-19 10:00:00] [abc12345] [error] [a.go:1] x": "error",
		"plain": "",
	}
	for line, want := range tests {
		if got := lineLevel(line); got != want {
			t.Fatalf("lineLevel(%q) = %q, want %q", line, got, want)
		}
	}
}

func TestLogHook(t *testing.T) {
	hook := NewLogHook(2, log.InfoLevel)
	for _, level := range hook.Levels() {
		if level == log.DebugLevel {
			t.Fatalf("debug must be filtered at info level")
		}
	}

	logger := log.New()
	logger.SetOutput(ioDiscard{})
	logger.AddHook(hook)
	logger.Info("one")
	logger.Info("two")
	logger.Warn("three")

	first := <-hook.Chan()
	second := <-hook.Chan()
	if !strings.Contains(first, "two") || !strings.Contains(second, "three") {
		t.Fatalf("oldest line should be dropped, got %q, %q", first, second)
	}
	if !strings.Contains(second, "[warn") {
		t.Fatalf("lines use the application log format: %q", second)
	}
}

type ioDiscard struct{}

func (ioDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestLogPaneKeepsRecentLines(t *testing.T) {
	hook := NewLogHook(4, log.DebugLevel)
	pane := newLogPane(hook)
	pane.maxLines = 2
	pane.SetSize(80, 5)
	for _, line := range []string{"a", "b", "c"} {
		pane, _ = pane.Update(logLineMsg(line))
	}
	if len(pane.lines) != 2 || pane.lines[0] != "b" {
		t.Fatalf("lines = %v", pane.lines)
	}
}
