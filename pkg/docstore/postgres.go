package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on a single documents table with a
// JSONB field column. Ordered subscriptions are driven by
// LISTEN/NOTIFY: every write notifies with the collection name and
// listeners requery their collection.
type PostgresStore struct {
	db       *sql.DB
	dsn      string
	minRetry time.Duration
	maxRetry time.Duration
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

const notifyChannel = "docstore_changes"

// NewPostgresStore opens a connection pool and prepares the documents
// table.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	} else {
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		db:       db,
		dsn:      dsn,
		minRetry: 500 * time.Millisecond,
		maxRetry: 10 * time.Second,
	}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			fields     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Put upserts the document and notifies subscribers.
func (s *PostgresStore) Put(ctx context.Context, collection, key string, fields map[string]interface{}) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, fields, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()
	`, collection, key, payload)
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return s.notify(ctx, collection)
}

// Get returns the document or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, key string) (Document, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Document{}, fmt.Errorf("failed to decode document: %w", err)
	}
	return Document{Key: key, Fields: fields}, nil
}

// Delete removes the document and notifies subscribers.
func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return s.notify(ctx, collection)
}

// List returns every document in the collection.
func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, fields FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		fields := make(map[string]interface{})
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, Document{Key: key, Fields: fields})
	}
	return docs, rows.Err()
}

// ApplyBatch runs every operation inside one transaction.
func (s *PostgresStore) ApplyBatch(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	touched := make(map[string]struct{})
	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			payload, err := json.Marshal(op.Fields)
			if err != nil {
				return fmt.Errorf("failed to encode batch document: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (collection, key, fields, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (collection, key)
				DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()
			`, op.Collection, op.Key, payload); err != nil {
				return fmt.Errorf("batch put failed: %w", err)
			}
		case OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND key = $2`,
				op.Collection, op.Key,
			); err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown batch op kind %q", op.Kind)
		}
		touched[op.Collection] = struct{}{}
	}

	for collection := range touched {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
			return fmt.Errorf("batch notify failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Subscribe listens for change notifications and requeries the
// collection on each, delivering ordered snapshots. A periodic
// re-check covers missed notifications after reconnects.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string, less OrderBy) (<-chan []Document, func(), error) {
	listener := pq.NewListener(s.dsn, s.minRetry, s.maxRetry, nil)
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	out := make(chan []Document, 1)

	deliver := func() {
		docs, err := s.List(subCtx, collection)
		if err != nil {
			return
		}
		if less != nil {
			sort.SliceStable(docs, func(i, j int) bool { return less(docs[i], docs[j]) })
		}
		select {
		case <-out:
		default:
		}
		select {
		case out <- docs:
		case <-subCtx.Done():
		}
	}

	go func() {
		defer close(out)
		defer listener.Close()

		deliver()
		resync := time.NewTicker(30 * time.Second)
		defer resync.Stop()

		for {
			select {
			case <-subCtx.Done():
				return
			case n := <-listener.Notify:
				// A nil notification signals a reconnect; resync then.
				if n == nil || n.Extra == collection {
					deliver()
				}
			case <-resync.C:
				deliver()
			}
		}
	}()

	return out, cancelCtx, nil
}

func (s *PostgresStore) notify(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
		return fmt.Errorf("failed to notify subscribers: %w", err)
	}
	return nil
}
