package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRecordTable  = "session_records"
	notifyChannel       = "desklogin_sessions"
	listenRetryInterval = 2 * time.Second
)

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore keeps records in a JSONB table. A trigger publishes the key of every changed
// row with pg_notify, and one LISTEN connection fans the notifications out to subscribers.
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  PostgresStoreConfig
	hub  hub

	mu           sync.Mutex
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	// readRecord replaces ReadOnce for subscription reads when set.
	readRecord func(ctx context.Context, key string) (*Record, error)
}

// NewPostgresStore establishes a connection pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultRecordTable
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	s := &PostgresStore{pool: pool, cfg: cfg}
	if err = s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the schema, the record table and the notify trigger.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	table := s.fullName(s.cfg.Table)
	function := s.fullName(s.cfg.Table + "_notify")
	trigger := quoteIdentifier(s.cfg.Table + "_notify_trigger")
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				PERFORM pg_notify('%s', OLD.id);
				RETURN OLD;
			END IF;
			PERFORM pg_notify('%s', NEW.id);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, function, notifyChannel, notifyChannel),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()", trigger, table, function),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: ensure schema: %w", err)
		}
	}
	return nil
}

// Subscribe implements Adapter.
func (s *PostgresStore) Subscribe(ctx context.Context, key string, onChange func(*Record)) (Unsubscribe, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	s.ensureListener()
	sub, unsubscribe := s.hub.subscribe(cleaned, onChange)
	go s.attach(ctx, sub)
	return unsubscribe, nil
}

// attach delivers the current record to a new subscriber. A failed read is reported as
// an absent record so the subscriber still observes the attach.
func (s *PostgresStore) attach(ctx context.Context, sub *subscription) {
	rec, err := s.read(ctx, sub.key)
	if err != nil {
		log.WithError(err).WithField("key", sub.key).Warn("postgres store: initial read failed")
		rec = nil
	}
	sub.post(rec)
}

func (s *PostgresStore) read(ctx context.Context, key string) (*Record, error) {
	if s.readRecord != nil {
		return s.readRecord(ctx, key)
	}
	return s.ReadOnce(ctx, key)
}

// notified routes a pg_notify payload, the changed key, to its subscribers.
func (s *PostgresStore) notified(ctx context.Context, key string) {
	if s.hub.watched(key) {
		s.refresh(ctx, key)
	}
}

func (s *PostgresStore) ensureListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.listenCancel = cancel
	s.listenDone = make(chan struct{})
	go s.listen(ctx, s.listenDone)
}

func (s *PostgresStore) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("postgres store: listener interrupted, retrying")
			select {
			case <-ctx.Done():
			case <-time.After(listenRetryInterval):
			}
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	if _, err = conn.Exec(ctx, "LISTEN "+quoteIdentifier(notifyChannel)); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// A change may have landed while no listener was attached.
	for _, key := range s.hub.keys() {
		s.refresh(ctx, key)
	}
	for {
		notification, errWait := conn.Conn().WaitForNotification(ctx)
		if errWait != nil {
			return errWait
		}
		s.notified(ctx, notification.Payload)
	}
}

func (s *PostgresStore) refresh(ctx context.Context, key string) {
	rec, err := s.read(ctx, key)
	if err != nil {
		log.WithError(err).WithField("key", key).Debug("postgres store: read after notify failed")
		return
	}
	s.hub.publish(key, rec)
}

// ReadOnce implements Adapter.
func (s *PostgresStore) ReadOnce(ctx context.Context, key string) (*Record, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	var content string
	query := fmt.Sprintf("SELECT content::text FROM %s WHERE id = $1", s.fullName(s.cfg.Table))
	if err = s.pool.QueryRow(ctx, query, cleaned).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres store: read %s: %w", cleaned, err)
	}
	return ParseRecord([]byte(content))
}

// Put implements Writer.
func (s *PostgresStore) Put(ctx context.Context, key string, rec *Record) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2::jsonb, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullName(s.cfg.Table))
	if _, err = s.pool.Exec(ctx, query, cleaned, string(data)); err != nil {
		return fmt.Errorf("postgres store: upsert %s: %w", cleaned, err)
	}
	return nil
}

// Delete implements Deleter.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.fullName(s.cfg.Table))
	if _, err = s.pool.Exec(ctx, query, cleaned); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", cleaned, err)
	}
	return nil
}

// Close stops the listener and releases the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	cancel, done := s.listenCancel, s.listenDone
	s.listenCancel, s.listenDone = nil, nil
	s.mu.Unlock()
	s.hub.closeAll()
	if cancel != nil {
		cancel()
		<-done
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) fullName(name string) string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(name)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(name)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
