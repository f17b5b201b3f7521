package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type logLineMsg string

// logPane shows the most recent log lines under the login screen.
type logPane struct {
	hook     *LogHook
	viewport viewport.Model
	lines    []string
	maxLines int
	ready    bool
}

func newLogPane(hook *LogHook) logPane {
	return logPane{hook: hook, maxLines: 500}
}

func (m logPane) Init() tea.Cmd {
	if m.hook == nil {
		return nil
	}
	return m.waitForLog
}

func (m logPane) waitForLog() tea.Msg {
	line, ok := <-m.hook.Chan()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (m logPane) Update(msg tea.Msg) (logPane, tea.Cmd) {
	line, ok := msg.(logLineMsg)
	if !ok {
		return m, nil
	}
	m.lines = append(m.lines, string(line))
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
	if m.ready {
		m.viewport.SetContent(m.render())
		m.viewport.GotoBottom()
	}
	return m, m.waitForLog
}

func (m *logPane) SetSize(w, h int) {
	if h < 1 {
		h = 1
	}
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m logPane) View() string {
	if m.hook == nil || !m.ready {
		return ""
	}
	return m.viewport.View()
}

func (m logPane) render() string {
	var sb strings.Builder
	for _, line := range m.lines {
		sb.WriteString(logLevelStyle(lineLevel(line)).Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}

// lineLevel extracts the level column written by logging.LogFormatter.
func lineLevel(line string) string {
	for _, level := range []string{"debug", "info", "warn", "error", "fatal", "panic"} {
		if strings.Contains(line, "["+level) {
			return level
		}
	}
	return ""
}
