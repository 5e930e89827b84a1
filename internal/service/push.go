package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

// PushService reconciles a client batch of changed records against the
// authoritative store: each record ends up created, updated or
// conflicted, inside one all-or-nothing transaction.
type PushService struct {
	records   *repository.RecordStore
	conflicts *repository.ConflictStore
	validator *BatchValidator
	clock     Clock
}

// NewPushService creates a new PushService.
func NewPushService(records *repository.RecordStore, conflicts *repository.ConflictStore, validator *BatchValidator, clock Clock) *PushService {
	return &PushService{records: records, conflicts: conflicts, validator: validator, clock: clock}
}

// Push validates and applies a batch. Validation failure rejects the
// whole batch with nothing applied; any unexpected storage error rolls
// the whole unit of work back, so a retry resubmits from a clean
// state. Resubmitting an already-applied batch is benign: the server
// copies are synced and not older, so records classify as updated
// instead of raising duplicate conflicts.
func (s *PushService) Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	tx, err := s.records.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning push transaction: %w", err)
	}
	defer tx.Rollback()

	resp := &model.PushResponse{
		Success:   true,
		Conflicts: []model.ConflictEntry{},
		Timestamp: now,
	}

	for _, tc := range req.Data {
		for _, rec := range tc.Records {
			outcome, entry, err := s.reconcile(ctx, tx, tc.Table, rec, now)
			if err != nil {
				return nil, fmt.Errorf("reconciling %s/%s: %w", tc.Table, rec.UUID(), err)
			}
			if outcome == model.OutcomeConflicted {
				resp.Conflicts = append(resp.Conflicts, *entry)
			} else {
				resp.Processed++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing push transaction: %w", err)
	}

	if len(resp.Conflicts) > 0 {
		slog.Info("push detected conflicts", "count", len(resp.Conflicts), "processed", resp.Processed)
	}

	return resp, nil
}

// reconcile classifies and applies a single incoming record.
func (s *PushService) reconcile(ctx context.Context, tx repository.DBTX, table string, rec model.Record, now time.Time) (string, *model.ConflictEntry, error) {
	existing, err := s.records.GetByUUID(ctx, tx, table, rec.UUID())
	if errors.Is(err, repository.ErrRecordNotFound) {
		if _, err := s.records.Create(ctx, tx, table, rec, now, true); err != nil {
			return "", nil, err
		}
		return model.OutcomeCreated, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	incomingUpdated, _ := rec.Time("updated_at")

	// The server copy wins only when it holds unconfirmed changes of
	// its own AND is strictly newer; everything else applies the
	// incoming values.
	if existing.IsDirty && s.clock.NewerThan(existing.UpdatedAt, incomingUpdated) {
		entry, err := s.recordConflict(ctx, tx, table, rec, existing, now)
		if err != nil {
			return "", nil, err
		}
		return model.OutcomeConflicted, entry, nil
	}

	payload, err := model.PayloadOf(rec)
	if err != nil {
		return "", nil, err
	}
	if err := s.records.UpdateData(ctx, tx, table, rec.UUID(), payload, now); err != nil {
		return "", nil, err
	}
	if err := s.records.MarkSynced(ctx, tx, table, rec.UUID(), now); err != nil {
		return "", nil, err
	}

	return model.OutcomeUpdated, nil, nil
}

func (s *PushService) recordConflict(ctx context.Context, tx repository.DBTX, table string, incoming model.Record, existing *model.StoredRecord, now time.Time) (*model.ConflictEntry, error) {
	serverSnap, err := existing.Snapshot()
	if err != nil {
		return nil, err
	}

	localData, err := json.Marshal(incoming)
	if err != nil {
		return nil, err
	}
	serverData, err := json.Marshal(serverSnap)
	if err != nil {
		return nil, err
	}

	conflict := &model.SyncConflict{
		TableName:          table,
		RecordUUID:         existing.UUID,
		LocalData:          localData,
		ServerData:         serverData,
		Status:             model.ConflictPending,
		ResolutionStrategy: model.ResolutionManual,
		CreatedAt:          now,
	}
	if err := s.conflicts.Create(ctx, tx, conflict); err != nil {
		return nil, err
	}

	return &model.ConflictEntry{
		Status:             "conflict",
		Table:              table,
		UUID:               existing.UUID,
		LocalData:          incoming,
		ServerData:         serverSnap,
		ResolutionStrategy: model.ResolutionManual,
	}, nil
}
