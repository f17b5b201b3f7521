package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	streamRetryInterval = 2 * time.Second
	maxEventSize        = 1 << 20
)

// RTDB is the subset of realtime database operations the store needs for one-shot access.
type RTDB interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// adminDB adapts the Firebase Admin SDK database client.
type adminDB struct {
	client *db.Client
}

// FromFirebaseDB wraps an Admin SDK database client.
func FromFirebaseDB(client *db.Client) RTDB {
	return adminDB{client: client}
}

func (a adminDB) Get(ctx context.Context, key string) ([]byte, error) {
	var raw json.RawMessage
	if err := a.client.NewRef(key).Get(ctx, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a adminDB) Set(ctx context.Context, key string, value json.RawMessage) error {
	return a.client.NewRef(key).Set(ctx, value)
}

func (a adminDB) Delete(ctx context.Context, key string) error {
	return a.client.NewRef(key).Delete(ctx)
}

// restDB talks to the realtime database REST API directly.
type restDB struct {
	base   *url.URL
	client *http.Client
}

func (r restDB) do(ctx context.Context, method, key string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, keyURL(r.base, key), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Debugf("firebase store: close response body: %v", errClose)
		}
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("realtime database %s %s: status %d: %s", method, key, resp.StatusCode, gjson.GetBytes(data, "error").String())
	}
	return data, nil
}

func (r restDB) Get(ctx context.Context, key string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, key, nil)
}

func (r restDB) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := r.do(ctx, http.MethodPut, key, value)
	return err
}

func (r restDB) Delete(ctx context.Context, key string) error {
	_, err := r.do(ctx, http.MethodDelete, key, nil)
	return err
}

// FirebaseStoreConfig configures the realtime database store.
type FirebaseStoreConfig struct {
	// DatabaseURL is the realtime database root, e.g. https://<project>-default-rtdb.firebaseio.com.
	// Emulator URLs carry the namespace as ?ns=<name>.
	DatabaseURL string
	// HTTPClient authorizes REST and streaming requests. It must not carry an overall timeout.
	HTTPClient *http.Client
	// DB, when set, serves one-shot reads, writes and deletes through the Admin SDK.
	DB RTDB
}

// FirebaseStore subscribes to records with the realtime database streaming REST API and
// applies put and patch events to a local copy of the document.
type FirebaseStore struct {
	base   *url.URL
	client *http.Client
	db     RTDB

	mu      sync.Mutex
	next    int
	streams map[int]func()
}

// NewFirebaseStore validates the configuration and returns the store.
func NewFirebaseStore(cfg FirebaseStoreConfig) (*FirebaseStore, error) {
	raw := strings.TrimSpace(cfg.DatabaseURL)
	if raw == "" {
		return nil, fmt.Errorf("firebase store: database URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("firebase store: invalid database URL %q", raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	store := &FirebaseStore{base: base, client: client, db: cfg.DB, streams: make(map[int]func())}
	if store.db == nil {
		store.db = restDB{base: base, client: client}
	}
	return store, nil
}

func keyURL(base *url.URL, key string) string {
	u := *base
	u.Path = base.Path + "/" + key + ".json"
	return u.String()
}

// Subscribe implements Adapter.
func (s *FirebaseStore) Subscribe(_ context.Context, key string, onChange func(*Record)) (Unsubscribe, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(cleaned, onChange)
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := func() {
		cancel()
		sub.stop()
	}

	s.mu.Lock()
	s.next++
	id := s.next
	s.streams[id] = stop
	s.mu.Unlock()

	go s.stream(streamCtx, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.streams, id)
			s.mu.Unlock()
			stop()
		})
	}, nil
}

func (s *FirebaseStore) stream(ctx context.Context, sub *subscription) {
	for ctx.Err() == nil {
		err := s.streamOnce(ctx, sub)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).WithField("key", sub.key).Warn("firebase store: stream interrupted, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetryInterval):
		}
	}
}

func (s *FirebaseStore) streamOnce(ctx context.Context, sub *subscription) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyURL(s.base, sub.key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc := &streamDocument{}
	return readEvents(resp.Body, func(event, data string) error {
		switch event {
		case "put", "patch":
			if errApply := doc.apply(event, []byte(data)); errApply != nil {
				log.WithError(errApply).WithField("key", sub.key).Debug("firebase store: ignoring malformed event")
				return nil
			}
			rec, errParse := ParseRecord(doc.raw)
			if errParse != nil {
				log.WithError(errParse).WithField("key", sub.key).Debug("firebase store: ignoring malformed record")
				return nil
			}
			sub.post(rec)
		case "keep-alive":
		case "cancel":
			return fmt.Errorf("stream cancelled by server: %s", data)
		case "auth_revoked":
			return fmt.Errorf("stream credential revoked")
		default:
			log.Debugf("firebase store: unknown stream event %q", event)
		}
		return nil
	})
}

// readEvents splits a text/event-stream body into (event, data) pairs.
func readEvents(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if event != "" || len(data) > 0 {
				if err := handle(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// streamDocument is the local copy of the streamed location.
type streamDocument struct {
	raw []byte
}

func (d *streamDocument) apply(event string, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("invalid event payload")
	}
	path := gjson.GetBytes(payload, "path").String()
	data := gjson.GetBytes(payload, "data")
	if event == "put" {
		return d.set(path, data)
	}
	if !data.IsObject() {
		return fmt.Errorf("patch data is not an object")
	}
	var err error
	data.ForEach(func(k, v gjson.Result) bool {
		err = d.set(strings.TrimRight(path, "/")+"/"+k.String(), v)
		return err == nil
	})
	return err
}

func (d *streamDocument) set(path string, value gjson.Result) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		if !value.Exists() || value.Type == gjson.Null {
			d.raw = nil
			return nil
		}
		d.raw = []byte(value.Raw)
		return nil
	}
	base := d.raw
	if !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
		base = []byte(`{}`)
	}
	target := sjsonPath(segments)
	var err error
	if !value.Exists() || value.Type == gjson.Null {
		d.raw, err = sjson.DeleteBytes(base, target)
	} else {
		d.raw, err = sjson.SetRawBytes(base, target, []byte(value.Raw))
	}
	return err
}

func splitPath(path string) []string {
	var out []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

var sjsonEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func sjsonPath(segments []string) string {
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = sjsonEscaper.Replace(segment)
	}
	return strings.Join(escaped, ".")
}

// ReadOnce implements Adapter.
func (s *FirebaseStore) ReadOnce(ctx context.Context, key string) (*Record, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.db.Get(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("firebase store: read %s: %w", cleaned, err)
	}
	return ParseRecord(data)
}

// Put implements Writer.
func (s *FirebaseStore) Put(ctx context.Context, key string, rec *Record) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	if err = s.db.Set(ctx, cleaned, data); err != nil {
		return fmt.Errorf("firebase store: write %s: %w", cleaned, err)
	}
	return nil
}

// Delete implements Deleter.
func (s *FirebaseStore) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err = s.db.Delete(ctx, cleaned); err != nil {
		return fmt.Errorf("firebase store: delete %s: %w", cleaned, err)
	}
	return nil
}

// Close stops every stream.
func (s *FirebaseStore) Close() error {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[int]func())
	s.mu.Unlock()
	for _, stop := range streams {
		stop()
	}
	return nil
}
