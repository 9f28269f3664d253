// Package store implements the device-local record store and the durable
// mutation log it writes ahead of, both backed by a single SQLite database.
//
// Every user-originated write commits the record row and its mutation log
// entry in one transaction: a crash immediately after Put returns cannot
// leave an edit that the sync engine does not know about.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	fieldsync "github.com/officebridge/fieldsync/internal/sync"
	"github.com/officebridge/fieldsync/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the per-device record store plus mutation log.
type SQLiteStore struct {
	db       *sql.DB
	notifier *Notifier
}

// NewSQLiteStore opens (or creates) the database at dbPath, applies pragmas,
// and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, notifier: NewNotifier()}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection and shuts down change notification.
func (s *SQLiteStore) Close() error {
	s.notifier.close()
	return s.db.Close()
}

// Notifier returns the store's change notifier for subscription.
func (s *SQLiteStore) Notifier() *Notifier {
	return s.notifier
}

// Put writes a record into the store.
//
// When queueForSync is true the write is user-originated: CreatedAt is set
// once, UpdatedAt is refreshed to now, and a mutation log entry is appended
// in the same transaction. When false the write is a remote-origin merge or
// an import: the record's own timestamps and tombstone flag are stored as
// given and nothing is enqueued.
func (s *SQLiteStore) Put(ctx context.Context, collection string, rec *types.Record, queueForSync bool) (*types.Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidRecord)
	}

	stored := rec.Clone()
	stored.Collection = collection

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getRecordTx(ctx, tx, collection, stored.ID, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	action := ActionForPut(existing)
	if queueForSync {
		now := time.Now().UTC()
		if existing != nil {
			stored.CreatedAt = existing.CreatedAt
		} else if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		stored.Deleted = false
	} else {
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = stored.UpdatedAt
		}
	}

	if err := upsertRecordTx(ctx, tx, stored); err != nil {
		return nil, err
	}

	origin := OriginRemote
	if queueForSync {
		origin = OriginLocal
		if _, err := enqueueTx(ctx, tx, stored, action); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.notifier.publish(Event{
		Collection: collection,
		RecordID:   stored.ID,
		Action:     action,
		Origin:     origin,
	})
	return stored, nil
}

// ActionForPut maps the pre-existing row state to the mutation action a put
// produces: create when the key was never seen, update otherwise.
func ActionForPut(existing *types.Record) string {
	if existing == nil {
		return fieldsync.ActionCreate
	}
	return fieldsync.ActionUpdate
}

// Get returns the current record, or ErrNotFound for missing and tombstoned
// records alike. Tombstones are never returned to normal callers.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection, id, fields, created_at, updated_at, deleted
		FROM records
		WHERE collection = ? AND id = ? AND deleted = 0
	`, collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// GetAny returns the current record even when tombstoned, or nil when the
// key has never been seen or was purged. The sync engine's pull merge uses
// it so a tombstone competes against the remote version instead of looking
// like an absent record.
func (s *SQLiteStore) GetAny(ctx context.Context, collection, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection, id, fields, created_at, updated_at, deleted
		FROM records
		WHERE collection = ? AND id = ?
	`, collection, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// Query returns a snapshot of the collection's live records, optionally
// filtered by predicate. A fresh call re-reads current state.
func (s *SQLiteStore) Query(ctx context.Context, collection string, predicate func(*types.Record) bool) ([]*types.Record, error) {
	recs, err := s.list(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	if predicate == nil {
		return recs, nil
	}
	filtered := recs[:0]
	for _, r := range recs {
		if predicate(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ListAll returns every record in the collection including tombstones. The
// hub's list endpoint uses it so remote deletes propagate on pull.
func (s *SQLiteStore) ListAll(ctx context.Context, collection string) ([]*types.Record, error) {
	return s.list(ctx, collection, true)
}

func (s *SQLiteStore) list(ctx context.Context, collection string, includeTombstones bool) ([]*types.Record, error) {
	q := `
		SELECT collection, id, fields, created_at, updated_at, deleted
		FROM records
		WHERE collection = ?`
	if !includeTombstones {
		q += ` AND deleted = 0`
	}
	q += ` ORDER BY updated_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := make([]*types.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete tombstones the record and enqueues a delete mutation in the same
// transaction. The row stays until Purge confirms the remote delete so a
// concurrent pull cannot resurrect it.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := getRecordTx(ctx, tx, collection, id, false)
	if err != nil {
		return err
	}

	existing.Deleted = true
	existing.UpdatedAt = time.Now().UTC()

	if err := upsertRecordTx(ctx, tx, existing); err != nil {
		return err
	}
	if _, err := enqueueTx(ctx, tx, existing, fieldsync.ActionDelete); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.notifier.publish(Event{
		Collection: collection,
		RecordID:   id,
		Action:     fieldsync.ActionDelete,
		Origin:     OriginLocal,
	})
	return nil
}

// Purge physically removes a tombstoned record. The sync engine calls it
// only after the remote acknowledged the delete.
func (s *SQLiteStore) Purge(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE collection = ? AND id = ? AND deleted = 1
	`, collection, id)
	if err != nil {
		return fmt.Errorf("purge record: %w", err)
	}
	return nil
}

func getRecordTx(ctx context.Context, tx *sql.Tx, collection, id string, includeTombstones bool) (*types.Record, error) {
	q := `
		SELECT collection, id, fields, created_at, updated_at, deleted
		FROM records
		WHERE collection = ? AND id = ?`
	if !includeTombstones {
		q += ` AND deleted = 0`
	}

	rec, err := scanRecord(tx.QueryRowContext(ctx, q, collection, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

func upsertRecordTx(ctx context.Context, tx *sql.Tx, rec *types.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	deleted := 0
	if rec.Deleted {
		deleted = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (collection, id, fields, created_at, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted
	`, rec.Collection, rec.ID, string(fields),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		deleted)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// scanRecord scans a row into a Record, decoding the fields JSON and
// parsing timestamps.
func scanRecord(scanner interface{ Scan(...any) error }) (*types.Record, error) {
	var rec types.Record
	var fieldsJSON string
	var createdAt, updatedAt string
	var deleted int

	if err := scanner.Scan(&rec.Collection, &rec.ID, &fieldsJSON, &createdAt, &updatedAt, &deleted); err != nil {
		return nil, err
	}

	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("parse fields JSON: %w", err)
		}
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	rec.Deleted = deleted != 0

	return &rec, nil
}

// exportDocument is the full-state backup format: every live record across
// collections, keyed by collection name.
type exportDocument struct {
	ExportedAt  time.Time                  `json:"exported_at"`
	Collections map[string][]*types.Record `json:"collections"`
}

// collections returns every collection name present in the records table,
// not just the standard set, so backups cover everything Put accepted.
func (s *SQLiteStore) collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT collection FROM records WHERE deleted = 0 ORDER BY collection
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Export writes a JSON document containing all current non-tombstoned
// records across every collection in the store.
func (s *SQLiteStore) Export(ctx context.Context, w io.Writer) error {
	doc := exportDocument{
		ExportedAt:  time.Now().UTC(),
		Collections: make(map[string][]*types.Record),
	}

	names, err := s.collections(ctx)
	if err != nil {
		return err
	}
	for _, collection := range names {
		recs, err := s.list(ctx, collection, false)
		if err != nil {
			return fmt.Errorf("export %s: %w", collection, err)
		}
		if len(recs) > 0 {
			doc.Collections[collection] = recs
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

// Import re-seeds the store from an export document. Records are written
// through the remote-origin path, so importing never enqueues mutations.
func (s *SQLiteStore) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode import: %w", err)
	}

	var count int
	for collection, recs := range doc.Collections {
		for _, rec := range recs {
			if _, err := s.Put(ctx, collection, rec, false); err != nil {
				return count, fmt.Errorf("import %s/%s: %w", collection, rec.ID, err)
			}
			count++
		}
	}
	return count, nil
}
