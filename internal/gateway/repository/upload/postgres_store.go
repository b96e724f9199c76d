package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// PostgresStore keeps uploads in an upload_blobs table. Expired rows are
// invisible to Get and are purged on the next Put.
type PostgresStore struct {
	db         *sql.DB
	now        func() time.Time
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS upload_blobs (
    key TEXT PRIMARY KEY,
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_upload_blobs_expires_at ON upload_blobs(expires_at);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("store is nil")
	}
	if err := ValidateKey(key); err != nil {
		return time.Time{}, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return time.Time{}, err
	}
	if data == nil {
		data = []byte{}
	}
	now := s.now()
	expiresAt := now.Add(normalizeTTL(ttl))
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_blobs WHERE expires_at <= $1`, now); err != nil {
		return time.Time{}, fmt.Errorf("purge expired uploads: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO upload_blobs (key, content, size, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key)
DO UPDATE SET content=EXCLUDED.content, size=EXCLUDED.size, expires_at=EXCLUDED.expires_at
`, key, data, int64(len(data)), expiresAt)
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM upload_blobs WHERE key = $1 AND expires_at > $2`,
		key, s.now(),
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (s *PostgresStore) PresignPut(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}
