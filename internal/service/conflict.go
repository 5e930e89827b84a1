package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

var ErrInvalidResolution = errors.New(`resolution must be "local" or "server"`)

// ConflictService drives detected conflicts through the
// pending → resolved/ignored state machine.
type ConflictService struct {
	conflicts *repository.ConflictStore
	records   *repository.RecordStore
	clock     Clock
}

// NewConflictService creates a new ConflictService.
func NewConflictService(conflicts *repository.ConflictStore, records *repository.RecordStore, clock Clock) *ConflictService {
	return &ConflictService{conflicts: conflicts, records: records, clock: clock}
}

// ListPending returns all unresolved conflicts.
func (s *ConflictService) ListPending(ctx context.Context) ([]model.SyncConflict, error) {
	return s.conflicts.ListPending(ctx)
}

// Resolve settles the pending conflict for a record. Resolving with
// "server" applies the server snapshot onto the record and marks it
// synced. Resolving with "local" applies the local snapshot and leaves
// the record dirty, so the next push cycle re-attempts delivery of the
// local version instead of dropping the edit. Both transitions are
// terminal; a repeat attempt fails with ErrConflictNotPending and
// mutates nothing.
func (s *ConflictService) Resolve(ctx context.Context, table, recordUUID, resolution, resolvedBy string) error {
	if resolution != model.ResolutionLocal && resolution != model.ResolutionServer {
		return ErrInvalidResolution
	}

	conflict, err := s.conflicts.GetPendingByRecord(ctx, table, recordUUID)
	if err != nil {
		return err
	}

	now := s.clock.Now()

	tx, err := s.records.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning resolve transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.conflicts.Transition(ctx, tx, conflict.ID, model.ConflictResolved, resolution, resolvedBy, now); err != nil {
		return err
	}

	var snapshot model.Record
	side := conflict.ServerData
	if resolution == model.ResolutionLocal {
		side = conflict.LocalData
	}
	if err := json.Unmarshal(side, &snapshot); err != nil {
		return fmt.Errorf("decoding %s snapshot: %w", resolution, err)
	}

	payload, err := model.PayloadOf(snapshot)
	if err != nil {
		return err
	}

	err = s.records.UpdateData(ctx, tx, table, recordUUID, payload, now)
	if errors.Is(err, repository.ErrRecordNotFound) {
		// The record vanished since detection; recreate it from the
		// winning snapshot rather than dropping the data.
		snapshot["uuid"] = recordUUID
		_, err = s.records.Create(ctx, tx, table, snapshot, now, resolution == model.ResolutionServer)
		if err != nil {
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	if resolution == model.ResolutionServer {
		if err := s.records.MarkSynced(ctx, tx, table, recordUUID, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Ignore closes a conflict without touching the disputed record.
func (s *ConflictService) Ignore(ctx context.Context, table, recordUUID, resolvedBy string) error {
	conflict, err := s.conflicts.GetPendingByRecord(ctx, table, recordUUID)
	if err != nil {
		return err
	}

	tx, err := s.records.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.conflicts.Transition(ctx, tx, conflict.ID, model.ConflictIgnored, "", resolvedBy, s.clock.Now()); err != nil {
		return err
	}

	return tx.Commit()
}

// Diff returns, for every field present on either side of a conflict,
// the {local, server} pair where the values differ, plus fields
// present on only one side. Presentation only; resolution logic never
// consults it.
func (s *ConflictService) Diff(ctx context.Context, conflictID int64) (map[string]model.FieldDiff, error) {
	conflict, err := s.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	var local, server model.Record
	if err := json.Unmarshal(conflict.LocalData, &local); err != nil {
		return nil, fmt.Errorf("decoding local snapshot: %w", err)
	}
	if err := json.Unmarshal(conflict.ServerData, &server); err != nil {
		return nil, fmt.Errorf("decoding server snapshot: %w", err)
	}

	return DiffRecords(local, server), nil
}

// DiffRecords computes the field-level differences of two snapshots.
func DiffRecords(local, server model.Record) map[string]model.FieldDiff {
	diff := make(map[string]model.FieldDiff)

	for field, lv := range local {
		sv, inServer := server[field]
		if !inServer || !reflect.DeepEqual(lv, sv) {
			diff[field] = model.FieldDiff{Local: lv, Server: sv}
		}
	}
	for field, sv := range server {
		if _, inLocal := local[field]; !inLocal {
			diff[field] = model.FieldDiff{Local: nil, Server: sv}
		}
	}

	return diff
}
