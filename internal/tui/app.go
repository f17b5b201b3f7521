package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/moneymoves/desklogin/internal/auth"
	"github.com/moneymoves/desklogin/internal/session"
)

// Screen states.
const (
	stateSignedOut = iota
	stateStarting
	stateWaiting
	stateFailed
	stateSignedIn
)

// Starter begins login sessions.
type Starter interface {
	Begin(ctx context.Context, opts session.BeginOptions) (*session.Session, error)
}

// Options wires the login screen to the rest of the application.
type Options struct {
	// OnSignedIn receives every resolved credential, e.g. to persist it.
	OnSignedIn func(*auth.Credential)
	// OnSignedOut is called when the user logs out.
	OnSignedOut func()
	// AutoStart begins a session as soon as the screen is shown.
	AutoStart bool
	// Clipboard overrides the system clipboard.
	Clipboard Clipboard
}

// Clipboard is the subset of the system clipboard the screen uses.
type Clipboard interface {
	WriteAll(text string) error
	ReadAll() (string, error)
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }
func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }

// App is the root bubbletea model of the login screen.
type App struct {
	starter Starter
	opts    Options

	state   int
	session *session.Session
	cred    *auth.Credential
	err     error
	notice  string

	spinner spinner.Model
	logs    logPane

	width  int
	height int
}

type sessionStartedMsg struct {
	session *session.Session
	err     error
}

type sessionDoneMsg struct {
	session *session.Session
	cred    *auth.Credential
	err     error
}

// NewApp creates the login screen. hook may be nil to hide the log pane.
func NewApp(starter Starter, opts Options, hook *LogHook) App {
	if opts.Clipboard == nil {
		opts.Clipboard = systemClipboard{}
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorPrimary)
	return App{
		starter: starter,
		opts:    opts,
		state:   stateSignedOut,
		spinner: sp,
		logs:    newLogPane(hook),
	}
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.logs.Init()}
	if a.opts.AutoStart {
		cmds = append(cmds, a.begin())
	}
	return tea.Batch(cmds...)
}

func (a App) begin() tea.Cmd {
	starter := a.starter
	return func() tea.Msg {
		s, err := starter.Begin(context.Background(), session.BeginOptions{})
		return sessionStartedMsg{session: s, err: err}
	}
}

func waitFor(s *session.Session) tea.Cmd {
	return func() tea.Msg {
		cred, err := s.Wait(context.Background())
		return sessionDoneMsg{session: s, cred: cred, err: err}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.logs.SetSize(a.width, a.height/3)
		return a, nil

	case logLineMsg:
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd

	case spinner.TickMsg:
		if a.state != stateStarting && a.state != stateWaiting {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case sessionStartedMsg:
		if a.state != stateStarting || a.session != nil {
			// Cancelled while starting, or superseded by a newer start.
			if msg.session != nil {
				msg.session.Cancel()
			}
			return a, nil
		}
		if msg.err != nil {
			a.state = stateFailed
			a.err = msg.err
			return a, nil
		}
		a.session = msg.session
		a.state = stateWaiting
		return a, waitFor(msg.session)

	case sessionDoneMsg:
		if msg.session != a.session {
			return a, nil
		}
		a.session = nil
		if msg.err != nil {
			a.state = stateFailed
			a.err = msg.err
			return a, nil
		}
		a.state = stateSignedIn
		a.cred = msg.cred
		a.err = nil
		if a.opts.OnSignedIn != nil {
			a.opts.OnSignedIn(msg.cred)
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if a.session != nil {
			a.session.Cancel()
		}
		return a, tea.Quit
	case "L":
		ToggleLocale()
		return a, nil
	}

	switch a.state {
	case stateSignedOut, stateFailed:
		switch msg.String() {
		case "enter":
			return a.start()
		case "esc":
			a.state = stateSignedOut
			a.err = nil
		}
	case stateWaiting:
		switch msg.String() {
		case "c":
			if err := a.opts.Clipboard.WriteAll(a.loginURL()); err != nil {
				a.notice = fmt.Sprintf(T("copy_failed"), err)
			} else {
				a.notice = T("copied")
			}
		case "v":
			raw, err := a.opts.Clipboard.ReadAll()
			if err == nil {
				err = a.session.SubmitCallbackURL(raw)
			}
			if err != nil {
				a.notice = fmt.Sprintf(T("paste_failed"), err)
			} else {
				a.notice = T("pasted")
			}
		case "esc":
			// The pending Wait reports the cancellation as a failure.
			a.session.Cancel()
		}
	case stateStarting:
		if msg.String() == "esc" {
			a.state = stateSignedOut
		}
	case stateSignedIn:
		if msg.String() == "l" {
			a.cred = nil
			a.state = stateSignedOut
			a.notice = T("signed_out_notice")
			if a.opts.OnSignedOut != nil {
				a.opts.OnSignedOut()
			}
		}
	}
	return a, nil
}

func (a App) start() (tea.Model, tea.Cmd) {
	a.state = stateStarting
	a.err = nil
	a.notice = ""
	return a, tea.Batch(a.spinner.Tick, a.begin())
}

// loginURL is the URL the user should visit: the provider page when the redirect
// strategy is armed, the companion page otherwise.
func (a App) loginURL() string {
	if a.session == nil {
		return ""
	}
	if u := a.session.AuthURL(); u != "" {
		return u
	}
	return a.session.LoginURL()
}

func (a App) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(T("title")))
	sb.WriteString("\n")
	sb.WriteString(subtitleStyle.Render(T("subtitle")))
	sb.WriteString("\n\n")

	var body strings.Builder
	var help string
	switch a.state {
	case stateSignedOut:
		body.WriteString(valueStyle.Render(T("signed_out")))
		help = T("help_signed_out")
	case stateStarting:
		body.WriteString(a.spinner.View() + " " + T("starting"))
		help = T("help_waiting")
	case stateWaiting:
		body.WriteString(a.spinner.View() + " " + T("waiting"))
		body.WriteString("\n\n")
		body.WriteString(helpStyle.Render(T("waiting_hint")))
		body.WriteString("\n")
		body.WriteString(urlStyle.Render(a.loginURL()))
		body.WriteString("\n\n")
		body.WriteString(labelStyle.Render(T("label_session")))
		body.WriteString(valueStyle.Render(a.session.ID()))
		help = T("help_waiting")
	case stateFailed:
		body.WriteString(errorStyle.Render(T("failed")))
		body.WriteString("\n")
		body.WriteString(valueStyle.Render(auth.GetUserFriendlyMessage(a.err)))
		help = T("help_failed")
	case stateSignedIn:
		body.WriteString(a.renderProfile())
		help = T("help_signed_in")
	}
	sb.WriteString(sectionStyle.Render(body.String()))
	sb.WriteString("\n")
	if a.notice != "" {
		sb.WriteString(successStyle.Render(a.notice))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render(help))
	if pane := a.logs.View(); pane != "" {
		sb.WriteString("\n")
		sb.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(T("status_right")))
		sb.WriteString("\n")
		sb.WriteString(pane)
	}
	return sb.String()
}

func (a App) renderProfile() string {
	if a.cred == nil {
		return ""
	}
	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
	}
	var sb strings.Builder
	sb.WriteString(successStyle.Render("✓ " + T("signed_in")))
	sb.WriteString("\n\n")
	sb.WriteString(row(T("label_name"), a.cred.DisplayName))
	sb.WriteString(row(T("label_email"), a.cred.Email))
	sb.WriteString(row(T("label_uid"), a.cred.UID))
	sb.WriteString(row(T("label_source"), a.cred.Source))
	if a.cred.Source == auth.SourceMock {
		sb.WriteString(warningStyle.Render("⚠ " + T("mock")))
		sb.WriteString("\n")
	}
	if a.cred.Unverified {
		sb.WriteString(warningStyle.Render("⚠ " + T("unverified")))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Run starts the login screen.
// output specifies where bubbletea renders. If nil, defaults to os.Stdout.
func Run(starter Starter, opts Options, hook *LogHook, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	p := tea.NewProgram(NewApp(starter, opts, hook), tea.WithAltScreen(), tea.WithOutput(output))
	_, err := p.Run()
	return err
}
