package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

const noSessionID = "--------"

// LogFormatter defines a custom log format for logrus.
// Format: [2026-10-19 20:14:04] [3f2a9c1e] [debug] [coordinator.go:212] handoff record received source=handoff
type LogFormatter struct{}

// logFieldOrder defines which fields are printed and in which order.
var logFieldOrder = []string{"strategy", "source", "store", "key", "poll", "state", "client", "error"}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	sessionID := noSessionID
	if id, ok := entry.Data[SessionIDField].(string); ok && id != "" {
		sessionID = ShortSessionID(id)
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s%s\n", timestamp, sessionID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%s] %s%s\n", timestamp, sessionID, levelStr, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...any) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Debugf(format, values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// isDirWritable checks if the specified directory exists and is writable by attempting to create and remove a test file.
func isDirWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	testFile := filepath.Join(dir, ".perm_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}

	defer func() {
		_ = f.Close()
		_ = os.Remove(testFile)
	}()
	return true
}

// ResolveLogDirectory determines the directory used for application logs.
// WRITABLE_PATH wins, then ./logs when writable, then the per-user config directory.
func ResolveLogDirectory() string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	logDir := "logs"
	if isDirWritable(logDir) {
		return logDir
	}
	if userDir, err := os.UserConfigDir(); err == nil && userDir != "" {
		return filepath.Join(userDir, "desklogin", "logs")
	}
	return logDir
}

// ConfigureLogOutput switches the global log destination between rotating files and stdout.
// When LogsMaxTotalSizeMB > 0, a background cleaner removes the oldest log files in the logs directory
// until the total size is within the limit.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	logDir := ResolveLogDirectory()

	protectedPath := ""
	if cfg.LoggingToFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		protectedPath = filepath.Join(logDir, "desklogin.log")
		logWriter = &lumberjack.Logger{
			Filename:   protectedPath,
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   false,
		}
		log.SetOutput(logWriter)
	} else {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
	}

	configureLogDirCleanerLocked(logDir, cfg.LogsMaxTotalSizeMB, protectedPath)
	return nil
}

// RedirectOutput sends log output to w until the returned restore function is called.
// The terminal UI uses it to keep log lines from tearing the rendered screen.
func RedirectOutput(w io.Writer) (restore func()) {
	writerMu.Lock()
	previous := log.StandardLogger().Out
	log.SetOutput(w)
	writerMu.Unlock()
	return func() {
		writerMu.Lock()
		defer writerMu.Unlock()
		log.SetOutput(previous)
	}
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopLogDirCleanerLocked()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}

// Shutdown flushes and closes every log output.
func Shutdown() {
	closeLogOutputs()
}
