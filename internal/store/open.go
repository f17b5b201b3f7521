package store

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/moneymoves/desklogin/internal/config"
	"github.com/moneymoves/desklogin/internal/util"
	log "github.com/sirupsen/logrus"
)

// OpenOptions carries collaborators that are built outside the store package.
type OpenOptions struct {
	// FirebaseHTTPClient authorizes realtime database requests.
	FirebaseHTTPClient *http.Client
	// FirebaseDB serves one-shot realtime database operations when set.
	FirebaseDB RTDB
}

// Open builds the backend selected by cfg.Store.Type. When the backend cannot be
// initialized the error is returned together with an Unavailable adapter, so callers
// always receive a usable Adapter.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (Adapter, error) {
	adapter, err := open(ctx, cfg, opts)
	if err != nil {
		log.WithError(err).WithField("store", cfg.Store.Type).Warn("token store unavailable, continuing without it")
		return Unavailable{Cause: err}, err
	}
	log.WithField("store", cfg.Store.Type).Debug("token store ready")
	return adapter, nil
}

func open(ctx context.Context, cfg *config.Config, opts OpenOptions) (Adapter, error) {
	switch cfg.Store.Type {
	case config.StoreNone:
		return nil, fmt.Errorf("no token store configured")
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreFile:
		dir, err := util.ResolvePath(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		return NewFileStore(dir)
	case config.StorePostgres:
		return NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:    cfg.Store.Postgres.DSN,
			Schema: cfg.Store.Postgres.Schema,
		})
	case config.StoreObject:
		return NewObjectStore(ctx, ObjectStoreConfig{
			Endpoint:  cfg.Store.Object.Endpoint,
			Bucket:    cfg.Store.Object.Bucket,
			AccessKey: cfg.Store.Object.AccessKey,
			SecretKey: cfg.Store.Object.SecretKey,
			UseSSL:    cfg.Store.Object.UseSSL,
		})
	case config.StoreFirebase:
		client := opts.FirebaseHTTPClient
		if client == nil {
			client = util.NewStreamingHTTPClient(&cfg.SDKConfig)
		}
		return NewFirebaseStore(FirebaseStoreConfig{
			DatabaseURL: cfg.Firebase.DatabaseURL,
			HTTPClient:  client,
			DB:          opts.FirebaseDB,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}

// Close closes adapter when it holds resources.
func Close(adapter Adapter) {
	if closer, ok := adapter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("token store: close failed")
		}
	}
}
