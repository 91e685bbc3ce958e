package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps cache entries in a single table keyed by URL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createCacheTableSQL = `
    CREATE TABLE IF NOT EXISTS hydromet_cache (
        key        TEXT PRIMARY KEY,
        value      BYTEA NOT NULL,
        expires_at TIMESTAMPTZ
    )
`

// NewPostgresStore creates a store backed by a pgx pool and ensures the table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createCacheTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

const getCacheSQL = `
    SELECT value
    FROM hydromet_cache
    WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
`

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, getCacheSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

const upsertCacheSQL = `
    INSERT INTO hydromet_cache (key, value, expires_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
`

// Set upserts the entry; a single statement keeps the write atomic per key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl).UTC()
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx, upsertCacheSQL, key, value, expiresAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM hydromet_cache WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) Contains(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM hydromet_cache WHERE key = $1 AND (expires_at IS NULL OR expires_at > now()))`,
		key,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE hydromet_cache`)
	return err
}

// Close releases the pool resources.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
