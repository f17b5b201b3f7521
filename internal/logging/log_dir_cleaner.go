package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

var logDirCleanerCancel context.CancelFunc

// logFile is one candidate for removal.
type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, protectedPath string) {
	stopLogDirCleanerLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	maxBytes := int64(maxTotalSizeMB) * 1024 * 1024

	ctx, cancel := context.WithCancel(context.Background())
	logDirCleanerCancel = cancel
	go runLogDirCleaner(ctx, filepath.Clean(dir), maxBytes, strings.TrimSpace(protectedPath))
}

func stopLogDirCleanerLocked() {
	if logDirCleanerCancel == nil {
		return
	}
	logDirCleanerCancel()
	logDirCleanerCancel = nil
}

func runLogDirCleaner(ctx context.Context, logDir string, maxBytes int64, protectedPath string) {
	ticker := time.NewTicker(logDirCleanerInterval)
	defer ticker.Stop()

	for {
		deleted, errClean := enforceLogDirSizeLimit(logDir, maxBytes, protectedPath)
		if errClean != nil {
			log.WithError(errClean).Warn("logging: failed to enforce log directory size limit")
		} else if deleted > 0 {
			log.Debugf("logging: removed %d old log file(s)", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enforceLogDirSizeLimit removes the oldest log files until the directory fits in maxBytes.
// protectedPath, the active log file, is never removed.
func enforceLogDirSizeLimit(logDir string, maxBytes int64, protectedPath string) (int, error) {
	dir := strings.TrimSpace(logDir)
	if maxBytes <= 0 || dir == "" {
		return 0, nil
	}
	files, total, err := listLogFiles(filepath.Clean(dir))
	if err != nil || total <= maxBytes {
		return 0, err
	}

	protected := strings.TrimSpace(protectedPath)
	if protected != "" {
		protected = filepath.Clean(protected)
	}

	slices.SortFunc(files, func(a, b logFile) int { return a.modTime.Compare(b.modTime) })

	deleted := 0
	for _, file := range files {
		if total <= maxBytes {
			break
		}
		if protected != "" && filepath.Clean(file.path) == protected {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		deleted++
	}
	return deleted, nil
}

func listLogFiles(dir string) ([]logFile, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	var (
		files []logFile
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	return files, total, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
