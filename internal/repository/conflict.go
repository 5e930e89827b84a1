package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
)

var (
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrConflictNotPending = errors.New("conflict already resolved")
)

// ConflictStore persists detected sync conflicts and owns the
// pending → resolved/ignored transition.
type ConflictStore struct {
	db *sql.DB
}

// NewConflictStore creates a new ConflictStore.
func NewConflictStore(db *sql.DB) *ConflictStore {
	return &ConflictStore{db: db}
}

// Create inserts a new pending conflict and sets the generated ID.
func (s *ConflictStore) Create(ctx context.Context, q DBTX, c *model.SyncConflict) error {
	query := `INSERT INTO sync_conflicts
		(table_name, record_uuid, local_data, server_data, status, resolution_strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := q.ExecContext(ctx, query,
		c.TableName, c.RecordUUID, string(c.LocalData), string(c.ServerData),
		c.Status, c.ResolutionStrategy, millis(c.CreatedAt),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	c.ID = id
	return nil
}

const conflictColumns = `id, table_name, record_uuid, local_data, server_data,
	status, COALESCE(resolution_strategy, ''), COALESCE(resolved_by, ''), resolved_at, created_at`

// GetByID retrieves a conflict by its ID.
func (s *ConflictStore) GetByID(ctx context.Context, id int64) (*model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`
	return scanConflict(s.db.QueryRowContext(ctx, query, id))
}

// GetPendingByRecord retrieves the pending conflict for a record, if
// one exists. At most one pending conflict per record is expected; the
// newest wins if the reconciler ever recorded more.
func (s *ConflictStore) GetPendingByRecord(ctx context.Context, table, recordUUID string) (*model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts
		WHERE table_name = ? AND record_uuid = ? AND status = ?
		ORDER BY id DESC LIMIT 1`
	return scanConflict(s.db.QueryRowContext(ctx, query, table, recordUUID, model.ConflictPending))
}

// ListPending retrieves all unresolved conflicts, oldest first.
func (s *ConflictStore) ListPending(ctx context.Context) ([]model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE status = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, model.ConflictPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []model.SyncConflict
	for rows.Next() {
		c, err := scanConflictRow(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, *c)
	}

	return conflicts, rows.Err()
}

// Transition moves a conflict from pending to the given terminal
// status, stamping the resolution bookkeeping atomically. The WHERE
// guard makes the transition single-shot: a conflict that already left
// pending is not touched and ErrConflictNotPending is returned, so two
// concurrent resolutions cannot both apply.
func (s *ConflictStore) Transition(ctx context.Context, q DBTX, id int64, status, strategy, resolvedBy string, at time.Time) error {
	query := `UPDATE sync_conflicts
		SET status = ?, resolution_strategy = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`

	result, err := q.ExecContext(ctx, query, status, strategy, resolvedBy, millis(at), id, model.ConflictPending)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflictNotPending
	}

	return nil
}

func scanConflictRow(sc scanner) (*model.SyncConflict, error) {
	c := &model.SyncConflict{}
	var localData, serverData string
	var resolvedAt sql.NullInt64
	var createdAt int64

	err := sc.Scan(&c.ID, &c.TableName, &c.RecordUUID, &localData, &serverData,
		&c.Status, &c.ResolutionStrategy, &c.ResolvedBy, &resolvedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	c.LocalData = []byte(localData)
	c.ServerData = []byte(serverData)
	c.CreatedAt = fromMillis(createdAt)
	if resolvedAt.Valid {
		t := fromMillis(resolvedAt.Int64)
		c.ResolvedAt = &t
	}

	return c, nil
}

func scanConflict(row *sql.Row) (*model.SyncConflict, error) {
	c, err := scanConflictRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	return c, nil
}
