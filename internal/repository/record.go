package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stocksync/stocksync-go/internal/model"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownTable   = errors.New("unknown sync table")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every store method
// can run standalone or inside a batch transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RecordStore is the syncable entity model: per-table record
// persistence plus the sync-metadata bookkeeping. All four entity
// tables share the same column shape, so one store serves them all;
// the table name is validated against the known collections before it
// is interpolated into any query.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// BeginTx starts a new database transaction.
func (s *RecordStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Querier exposes the store's connection for single-statement calls
// outside a transaction.
func (s *RecordStore) Querier() DBTX {
	return s.db
}

// syncWrite tags the two writers allowed to touch the dirty flag: the
// entity's own mutation path and the mark-synced bookkeeping path.
// Every dirty-flag write in the program goes through writeRecord with
// one of these tags, which keeps the "synced records are never
// re-dirtied by their own synced-write" invariant in one place.
type syncWrite int

const (
	// writeLocal is an entity mutation: the payload changes, the record
	// becomes dirty, and updated_at advances.
	writeLocal syncWrite = iota
	// writeSynced is sync bookkeeping: the dirty flag clears and
	// last_synced_at is stamped, but updated_at must not move — marking
	// a record synced must not look like a new edit.
	writeSynced
)

func (s *RecordStore) writeRecord(ctx context.Context, q DBTX, table, id string, w syncWrite, data json.RawMessage, at time.Time) error {
	if !model.IsSyncTable(table) {
		return ErrUnknownTable
	}

	var query string
	var args []any
	switch w {
	case writeLocal:
		query = fmt.Sprintf(`UPDATE %s SET data = ?, is_dirty = 1, updated_at = ? WHERE uuid = ?`, table)
		args = []any{string(data), millis(at), id}
	case writeSynced:
		query = fmt.Sprintf(`UPDATE %s SET is_dirty = 0, last_synced_at = ? WHERE uuid = ?`, table)
		args = []any{millis(at), id}
	default:
		return fmt.Errorf("unknown sync write tag %d", w)
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// UpdateData applies a new entity payload to an existing record,
// marking it dirty and advancing its update timestamp.
func (s *RecordStore) UpdateData(ctx context.Context, q DBTX, table, id string, data json.RawMessage, at time.Time) error {
	return s.writeRecord(ctx, q, table, id, writeLocal, data, at)
}

// MarkSynced clears the dirty flag and stamps last_synced_at without
// advancing updated_at.
func (s *RecordStore) MarkSynced(ctx context.Context, q DBTX, table, id string, at time.Time) error {
	return s.writeRecord(ctx, q, table, id, writeSynced, nil, at)
}

// Create inserts a new record from its wire form. A missing uuid is
// assigned; the record starts dirty unless alreadySynced is set
// (bulk-import and replication paths pre-mark records as synced).
// Client-supplied created_at/updated_at are honored when present.
func (s *RecordStore) Create(ctx context.Context, q DBTX, table string, rec model.Record, now time.Time, alreadySynced bool) (*model.StoredRecord, error) {
	if !model.IsSyncTable(table) {
		return nil, ErrUnknownTable
	}

	id := rec.UUID()
	if id == "" {
		id = uuid.NewString()
	}

	createdAt, ok := rec.Time("created_at")
	if !ok {
		createdAt = now
	}
	updatedAt, ok := rec.Time("updated_at")
	if !ok {
		updatedAt = now
	}

	data, err := model.PayloadOf(rec)
	if err != nil {
		return nil, err
	}

	stored := &model.StoredRecord{
		UUID:      id,
		Data:      data,
		IsDirty:   !alreadySynced,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if alreadySynced {
		at := now.UTC()
		stored.LastSyncedAt = &at
	}

	if err := s.insert(ctx, q, table, stored); err != nil {
		return nil, err
	}

	return stored, nil
}

func (s *RecordStore) insert(ctx context.Context, q DBTX, table string, rec *model.StoredRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (uuid, data, is_dirty, created_at, updated_at, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)`, table)

	var lastSynced any
	if rec.LastSyncedAt != nil {
		lastSynced = millis(*rec.LastSyncedAt)
	}

	result, err := q.ExecContext(ctx, query,
		rec.UUID, string(rec.Data), boolToInt(rec.IsDirty),
		millis(rec.CreatedAt), millis(rec.UpdatedAt), lastSynced,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	rec.ID = id
	return nil
}

const recordColumns = `id, uuid, data, is_dirty, created_at, updated_at, last_synced_at`

// GetByUUID retrieves a record by its correlation key.
func (s *RecordStore) GetByUUID(ctx context.Context, q DBTX, table, id string) (*model.StoredRecord, error) {
	if !model.IsSyncTable(table) {
		return nil, ErrUnknownTable
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE uuid = ?`, recordColumns, table)
	return scanRecord(q.QueryRowContext(ctx, query, id))
}

// ListChangedSince retrieves every record whose updated_at is strictly
// greater than the watermark, in update order.
func (s *RecordStore) ListChangedSince(ctx context.Context, table string, since time.Time) ([]model.StoredRecord, error) {
	if !model.IsSyncTable(table) {
		return nil, ErrUnknownTable
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE updated_at > ? ORDER BY updated_at ASC`, recordColumns, table)
	return s.list(ctx, query, millis(since))
}

// ListDirty retrieves every record with local changes not yet
// confirmed synced.
func (s *RecordStore) ListDirty(ctx context.Context, table string) ([]model.StoredRecord, error) {
	if !model.IsSyncTable(table) {
		return nil, ErrUnknownTable
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE is_dirty = 1 ORDER BY updated_at ASC`, recordColumns, table)
	return s.list(ctx, query)
}

// CountDirty counts the records with unconfirmed local changes.
func (s *RecordStore) CountDirty(ctx context.Context, table string) (int, error) {
	if !model.IsSyncTable(table) {
		return 0, ErrUnknownTable
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_dirty = 1`, table)
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// OldestLastSyncedAt returns the oldest non-null last_synced_at across
// all four collections, or nil when no record has ever synced.
func (s *RecordStore) OldestLastSyncedAt(ctx context.Context) (*time.Time, error) {
	var oldest *time.Time
	for _, table := range model.SyncTables() {
		var ms sql.NullInt64
		query := fmt.Sprintf(`SELECT MIN(last_synced_at) FROM %s`, table)
		if err := s.db.QueryRowContext(ctx, query).Scan(&ms); err != nil {
			return nil, err
		}
		if !ms.Valid {
			continue
		}
		t := fromMillis(ms.Int64)
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
	}
	return oldest, nil
}

func (s *RecordStore) list(ctx context.Context, query string, args ...any) ([]model.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.StoredRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecordRow(sc scanner) (*model.StoredRecord, error) {
	rec := &model.StoredRecord{}
	var data string
	var dirty int
	var createdAt, updatedAt int64
	var lastSynced sql.NullInt64

	err := sc.Scan(&rec.ID, &rec.UUID, &data, &dirty, &createdAt, &updatedAt, &lastSynced)
	if err != nil {
		return nil, err
	}

	rec.Data = json.RawMessage(data)
	rec.IsDirty = dirty != 0
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	if lastSynced.Valid {
		t := fromMillis(lastSynced.Int64)
		rec.LastSyncedAt = &t
	}

	return rec, nil
}

func scanRecord(row *sql.Row) (*model.StoredRecord, error) {
	rec, err := scanRecordRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
