package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CheckOpIdempotency looks up a processed mutation key. Returns the cached
// response and true when the mutation was already applied and the cache has
// not expired.
func (s *SQLiteStore) CheckOpIdempotency(ctx context.Context, mutationKey string) ([]byte, bool, error) {
	var response, expiresAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT response, expires_at FROM op_idempotency WHERE mutation_key = ?
	`, mutationKey).Scan(&response, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("check idempotency: %w", err)
	}

	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("parse expires_at: %w", err)
	}
	if time.Now().After(expires) {
		return nil, false, nil
	}

	return []byte(response), true, nil
}

// RecordOpIdempotency caches the response for an applied mutation key.
func (s *SQLiteStore) RecordOpIdempotency(ctx context.Context, mutationKey string, response []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO op_idempotency (mutation_key, response, expires_at)
		VALUES (?, ?, ?)
	`, mutationKey, string(response), expiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record idempotency: %w", err)
	}
	return nil
}

// CleanExpiredIdempotency removes expired idempotency entries. Returns the
// number of entries removed.
func (s *SQLiteStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM op_idempotency WHERE expires_at < ?
	`, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("clean expired idempotency: %w", err)
	}
	return result.RowsAffected()
}

// GetSyncMeta retrieves a sync metadata value by key.
func (s *SQLiteStore) GetSyncMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM sync_meta WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sync meta key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

// SetSyncMeta sets a sync metadata value.
func (s *SQLiteStore) SetSyncMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}
