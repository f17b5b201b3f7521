package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/moneymoves/desklogin/internal/logging"
	log "github.com/sirupsen/logrus"
)

// LogHook is a logrus hook that feeds log lines to the login screen's log pane.
type LogHook struct {
	ch        chan string
	formatter log.Formatter
	mu        sync.Mutex
	levels    []log.Level
}

// NewLogHook creates a hook with a buffer of bufSize lines that fires for minLevel
// and more severe levels.
func NewLogHook(bufSize int, minLevel log.Level) *LogHook {
	levels := make([]log.Level, 0, len(log.AllLevels))
	for _, level := range log.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return &LogHook{
		ch:        make(chan string, bufSize),
		formatter: &logging.LogFormatter{},
		levels:    levels,
	}
}

// SetFormatter sets a custom formatter for the hook.
func (h *LogHook) SetFormatter(f log.Formatter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formatter = f
}

// Levels implements log.Hook.
func (h *LogHook) Levels() []log.Level {
	return h.levels
}

// Fire implements log.Hook. It never blocks; when the buffer is full the oldest line
// is dropped.
func (h *LogHook) Fire(entry *log.Entry) error {
	h.mu.Lock()
	f := h.formatter
	h.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Message)
	if f != nil {
		if b, err := f.Format(entry); err == nil {
			line = strings.TrimRight(string(b), "\n\r")
		}
	}

	select {
	case h.ch <- line:
	default:
		select {
		case <-h.ch:
		default:
		}
		select {
		case h.ch <- line:
		default:
		}
	}
	return nil
}

// Chan returns the channel to read log lines from.
func (h *LogHook) Chan() <-chan string {
	return h.ch
}
