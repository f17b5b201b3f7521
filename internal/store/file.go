package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// FileStore keeps each record as <dir>/<key>.json and watches the directories of
// subscribed keys with fsnotify. It suits a companion page served from the same machine
// and shared-folder setups.
type FileStore struct {
	dir string
	hub hub

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]struct{}
	done    chan struct{}
}

// NewFileStore creates the root directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &FileStore{dir: abs, watched: make(map[string]struct{})}, nil
}

// Dir returns the absolute root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+".json")
}

func (s *FileStore) keyFor(path string) (string, bool) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, ".json") {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, ".json")), true
}

// Subscribe implements Adapter.
func (s *FileStore) Subscribe(ctx context.Context, key string, onChange func(*Record)) (Unsubscribe, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err = s.watchDir(filepath.Dir(s.pathFor(cleaned))); err != nil {
		return nil, err
	}
	sub, unsubscribe := s.hub.subscribe(cleaned, onChange)
	rec, errRead := s.ReadOnce(ctx, cleaned)
	if errRead != nil {
		log.WithError(errRead).WithField("key", cleaned).Debug("file store: initial read failed")
	}
	sub.post(rec)
	return unsubscribe, nil
}

func (s *FileStore) watchDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("file store: create watcher: %w", err)
		}
		s.watcher = w
		s.done = make(chan struct{})
		go s.processEvents(w, s.done)
	}
	if _, ok := s.watched[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file store: create directory: %w", err)
	}
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("file store: watch %s: %w", dir, err)
	}
	s.watched[dir] = struct{}{}
	return nil
}

func (s *FileStore) processEvents(w *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case errWatch, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WithError(errWatch).Warn("file store: watcher error")
		}
	}
}

func (s *FileStore) handleEvent(event fsnotify.Event) {
	relevant := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return
	}
	key, ok := s.keyFor(event.Name)
	if !ok || !s.hub.watched(key) {
		return
	}
	log.Debugf("file store: %s %s", event.Op.String(), filepath.Base(event.Name))
	rec, err := s.ReadOnce(context.Background(), key)
	if err != nil {
		// Partially written files surface here; the write that completes them follows.
		log.WithError(err).WithField("key", key).Debug("file store: read after event failed")
		return
	}
	s.hub.publish(key, rec)
}

// ReadOnce implements Adapter.
func (s *FileStore) ReadOnce(_ context.Context, key string) (*Record, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(cleaned))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("file store: read %s: %w", cleaned, err)
	}
	return ParseRecord(data)
}

// Put implements Writer. The file is replaced atomically.
func (s *FileStore) Put(_ context.Context, key string, rec *Record) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	target := s.pathFor(cleaned)
	if err = os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("file store: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: rename record: %w", err)
	}
	return nil
}

// Delete implements Deleter.
func (s *FileStore) Delete(_ context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err = os.Remove(s.pathFor(cleaned)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: delete %s: %w", cleaned, err)
	}
	return nil
}

// Close stops the watcher and detaches every subscription.
func (s *FileStore) Close() error {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher, s.done = nil, nil
	s.watched = make(map[string]struct{})
	s.mu.Unlock()
	s.hub.closeAll()
	if w == nil {
		return nil
	}
	close(done)
	return w.Close()
}
