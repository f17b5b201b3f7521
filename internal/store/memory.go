package store

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// MemoryStore keeps records in process memory. It backs development runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	hub     hub
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Subscribe implements Adapter.
func (s *MemoryStore) Subscribe(ctx context.Context, key string, onChange func(*Record)) (Unsubscribe, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	sub, unsubscribe := s.hub.subscribe(cleaned, onChange)
	rec, errRead := s.ReadOnce(ctx, cleaned)
	if errRead != nil {
		log.WithError(errRead).WithField("key", cleaned).Warn("memory store: initial read failed")
		rec = nil
	}
	sub.post(rec)
	return unsubscribe, nil
}

// ReadOnce implements Adapter.
func (s *MemoryStore) ReadOnce(_ context.Context, key string) (*Record, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw := s.records[cleaned]
	s.mu.RUnlock()
	return ParseRecord(raw)
}

// Put implements Writer.
func (s *MemoryStore) Put(ctx context.Context, key string, rec *Record) error {
	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	return s.PutRaw(ctx, key, data)
}

// PutRaw stores a raw JSON document at key and notifies subscribers.
func (s *MemoryStore) PutRaw(_ context.Context, key string, data []byte) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[cleaned] = append([]byte(nil), data...)
	s.mu.Unlock()
	s.hub.publish(cleaned, rec)
	return nil
}

// Delete implements Deleter.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.records[cleaned]
	delete(s.records, cleaned)
	s.mu.Unlock()
	if existed {
		s.hub.publish(cleaned, nil)
	}
	return nil
}

// Subscribers returns the number of keys with at least one live subscription.
func (s *MemoryStore) Subscribers() int {
	return len(s.hub.keys())
}

// Close detaches every subscription.
func (s *MemoryStore) Close() error {
	s.hub.closeAll()
	return nil
}
