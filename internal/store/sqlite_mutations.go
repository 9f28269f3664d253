package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	fieldsync "github.com/officebridge/fieldsync/internal/sync"
	"github.com/officebridge/fieldsync/internal/types"
	"github.com/oklog/ulid/v2"
)

const insertMutationSQL = `
	INSERT INTO mutation_log (collection, record_id, action, payload, mutation_key, state, enqueued_at, next_attempt_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`

// enqueueTx appends a mutation entry inside the caller's transaction. The
// payload is a snapshot of the record at enqueue time; later edits to the
// same record append new entries, they never mutate a queued one.
func enqueueTx(ctx context.Context, tx *sql.Tx, rec *types.Record, action string) (int64, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode mutation payload: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := tx.ExecContext(ctx, insertMutationSQL,
		rec.Collection, rec.ID, action, string(payload),
		ulid.Make().String(), fieldsync.MutationStatePending, now, now)
	if err != nil {
		return 0, fmt.Errorf("append mutation log: %w", err)
	}
	return result.LastInsertId()
}

// Peek returns up to n of the oldest pending entries whose backoff window
// has passed, in insertion order, without removing them.
//
// Release is gated per record: an entry stays held while any earlier entry
// for the same (collection, record_id) is dead or still in backoff. Without
// the gate, an update enqueued after its create failed would push alone and
// the parked create's stale snapshot would later overwrite it on the hub.
func (s *SQLiteStore) Peek(ctx context.Context, n int) ([]fieldsync.MutationEntry, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, record_id, action, payload, mutation_key, state, enqueued_at, next_attempt_at, retry_count, last_error
		FROM mutation_log m
		WHERE m.state = ? AND m.next_attempt_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM mutation_log p
			WHERE p.collection = m.collection
			  AND p.record_id = m.record_id
			  AND p.id < m.id
			  AND (p.state = ? OR p.next_attempt_at > ?)
		  )
		ORDER BY m.id ASC
		LIMIT ?
	`, fieldsync.MutationStatePending, now, fieldsync.MutationStateDead, now, n)
	if err != nil {
		return nil, fmt.Errorf("query mutation log: %w", err)
	}
	defer rows.Close()

	return scanMutationEntries(rows)
}

// Ack removes the entry after confirmed remote acceptance. Acking an entry
// that is already gone is not an error; abandoned cycles may re-deliver.
func (s *SQLiteStore) Ack(ctx context.Context, entryID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutation_log WHERE id = ?`, entryID); err != nil {
		return fmt.Errorf("ack mutation: %w", err)
	}
	return nil
}

// Fail records a push failure: retry_count is incremented, last_error
// recorded, and the next attempt scheduled at nextAttemptAt. Returns the
// new retry count so the caller can apply its retry budget.
func (s *SQLiteStore) Fail(ctx context.Context, entryID int64, cause error, nextAttemptAt time.Time) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE mutation_log
		SET retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ? AND state = ?
	`, msg, nextAttemptAt.UTC().Format(time.RFC3339Nano), entryID, fieldsync.MutationStatePending)
	if err != nil {
		return 0, fmt.Errorf("fail mutation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail mutation: %w", err)
	}
	if affected == 0 {
		return 0, ErrEntryNotFound
	}

	var retryCount int
	err = s.db.QueryRowContext(ctx,
		`SELECT retry_count FROM mutation_log WHERE id = ?`, entryID).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return retryCount, nil
}

// MarkDead moves an entry to the dead-letter state. Dead entries stay
// visible via DeadLetters until an operator requeues or drops them; they
// are never silently discarded.
func (s *SQLiteStore) MarkDead(ctx context.Context, entryID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mutation_log SET state = ? WHERE id = ?
	`, fieldsync.MutationStateDead, entryID)
	if err != nil {
		return fmt.Errorf("mark mutation dead: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark mutation dead: %w", err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeadLetters returns every dead-lettered entry in insertion order.
func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]fieldsync.MutationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, record_id, action, payload, mutation_key, state, enqueued_at, next_attempt_at, retry_count, last_error
		FROM mutation_log
		WHERE state = ?
		ORDER BY id ASC
	`, fieldsync.MutationStateDead)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	return scanMutationEntries(rows)
}

// Requeue returns a dead-lettered entry to the pending state with a fresh
// retry budget.
func (s *SQLiteStore) Requeue(ctx context.Context, entryID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, `
		UPDATE mutation_log
		SET state = ?, retry_count = 0, last_error = NULL, next_attempt_at = ?
		WHERE id = ? AND state = ?
	`, fieldsync.MutationStatePending, now, entryID, fieldsync.MutationStateDead)
	if err != nil {
		return fmt.Errorf("requeue mutation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue mutation: %w", err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// PendingCount returns the number of entries awaiting push, regardless of
// backoff window.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	return s.countByState(ctx, fieldsync.MutationStatePending)
}

// DeadLetterCount returns the number of dead-lettered entries.
func (s *SQLiteStore) DeadLetterCount(ctx context.Context) (int, error) {
	return s.countByState(ctx, fieldsync.MutationStateDead)
}

func (s *SQLiteStore) countByState(ctx context.Context, state string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutation_log WHERE state = ?`, state).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return count, nil
}

func scanMutationEntries(rows *sql.Rows) ([]fieldsync.MutationEntry, error) {
	entries := make([]fieldsync.MutationEntry, 0)
	for rows.Next() {
		var e fieldsync.MutationEntry
		var payload sql.NullString
		var lastError sql.NullString
		var enqueuedAt, nextAttemptAt string

		if err := rows.Scan(&e.ID, &e.Collection, &e.RecordID, &e.Action,
			&payload, &e.MutationKey, &e.State, &enqueuedAt, &nextAttemptAt,
			&e.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("scan mutation entry: %w", err)
		}

		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		if lastError.Valid {
			e.LastError = lastError.String
		}
		var err error
		if e.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt); err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		if e.NextAttemptAt, err = time.Parse(time.RFC3339Nano, nextAttemptAt); err != nil {
			return nil, fmt.Errorf("parse next_attempt_at: %w", err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
