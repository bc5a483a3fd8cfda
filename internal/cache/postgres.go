package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresTable holds cache entries when no table is configured.
const DefaultPostgresTable = "porua_audio_cache"

// postgresTimeout bounds each statement; the Store interface carries no
// context.
const postgresTimeout = 5 * time.Second

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore implements Store on a PostgreSQL table, letting several
// porua servers share one cache.
type PostgresStore struct {
	db     *pgxpool.Pool
	table  string
	logger *log.Logger
}

// NewPostgresStore creates the cache table if needed. The store owns db and
// closes it on Close.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool, table string, logger *log.Logger) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &PostgresStore{db: db, table: table, logger: logger}

	_, err := db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			written_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table))
	if err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return s, nil
}

// OpenPostgresStore connects to databaseURL and opens the store on it.
func OpenPostgresStore(ctx context.Context, databaseURL, table string, logger *log.Logger) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to cache database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	s, err := NewPostgresStore(ctx, db, table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Get retrieves a value from the store.
func (s *PostgresStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	var value []byte
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put stores a value, replacing any previous value for key.
func (s *PostgresStore) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, written_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, written_at = EXCLUDED.written_at`, s.table),
		key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes an entry from the store.
func (s *PostgresStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Clear removes every entry.
func (s *PostgresStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Keys lists stored keys, most recently written first. A query failure is
// logged and yields no keys.
func (s *PostgresStore) Keys() []string {
	ctx, cancel := context.WithTimeout(context.Background(), postgresTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT key FROM %s ORDER BY written_at DESC, key`, s.table))
	if err != nil {
		s.logger.Warn("Failed to list cache keys", "table", s.table, "error", err)
		return nil
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		s.logger.Warn("Failed to list cache keys", "table", s.table, "error", err)
		return nil
	}
	return keys
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
