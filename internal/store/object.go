package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
	log "github.com/sirupsen/logrus"
)

// ObjectStoreConfig captures configuration for the S3-compatible store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore keeps each record as the object <prefix>/<key>.json. Subscriptions use
// MinIO bucket notifications filtered to the record's object key.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig

	mu      sync.Mutex
	next    int
	cancels map[int]func()
}

// NewObjectStore initializes an object storage backed store and makes sure the bucket exists.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	s := &ObjectStore{client: client, cfg: cfg, cancels: make(map[int]func())}
	if err = s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

func (s *ObjectStore) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key + ".json"
	}
	return s.cfg.Prefix + "/" + key + ".json"
}

// Subscribe implements Adapter.
func (s *ObjectStore) Subscribe(_ context.Context, key string, onChange func(*Record)) (Unsubscribe, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(cleaned, onChange)
	listenCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.next++
	id := s.next
	s.cancels[id] = func() {
		cancel()
		sub.stop()
	}
	s.mu.Unlock()

	go s.listen(listenCtx, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
			sub.stop()
		})
	}, nil
}

func (s *ObjectStore) listen(ctx context.Context, sub *subscription) {
	objectKey := s.objectKey(sub.key)
	events := []string{"s3:ObjectCreated:*", "s3:ObjectRemoved:*"}
	s.refresh(ctx, sub)
	for ctx.Err() == nil {
		for info := range s.client.ListenBucketNotification(ctx, s.cfg.Bucket, objectKey, "", events) {
			if info.Err != nil {
				if ctx.Err() == nil {
					log.WithError(info.Err).WithField("key", sub.key).Warn("object store: notification stream failed")
				}
				break
			}
			if touchesObject(info.Records, objectKey) {
				s.refresh(ctx, sub)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryInterval):
		}
		s.refresh(ctx, sub)
	}
}

// touchesObject reports whether any notification record names objectKey.
func touchesObject(records []notification.Event, objectKey string) bool {
	for _, event := range records {
		if event.S3.Object.Key == objectKey {
			return true
		}
	}
	return false
}

func (s *ObjectStore) refresh(ctx context.Context, sub *subscription) {
	rec, err := s.ReadOnce(ctx, sub.key)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).WithField("key", sub.key).Debug("object store: read failed")
		}
		return
	}
	sub.post(rec)
}

// ReadOnce implements Adapter.
func (s *ObjectStore) ReadOnce(ctx context.Context, key string) (*Record, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(cleaned), minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: fetch %s: %w", cleaned, err)
	}
	defer func() {
		if errClose := object.Close(); errClose != nil {
			log.WithError(errClose).Debug("object store: close object")
		}
	}()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("object store: read %s: %w", cleaned, err)
	}
	return ParseRecord(data)
}

// Put implements Writer.
func (s *ObjectStore) Put(ctx context.Context, key string, rec *Record) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(cleaned), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("object store: put %s: %w", cleaned, err)
	}
	return nil
}

// Delete implements Deleter.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err = s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectKey(cleaned), minio.RemoveObjectOptions{}); err != nil && !isObjectNotFound(err) {
		return fmt.Errorf("object store: delete %s: %w", cleaned, err)
	}
	return nil
}

// Close cancels every notification listener.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[int]func())
	s.mu.Unlock()
	for _, stop := range cancels {
		stop()
	}
	return nil
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
