package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

func productBatch(rec model.Record) model.PushRequest {
	return model.PushRequest{Data: []model.TableChanges{
		{Table: model.TableProducts, Records: []model.Record{rec}},
	}}
}

func TestPushCreatesOnEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	resp, err := svc.Push(ctx, productBatch(validProduct("u1")))
	if err != nil {
		t.Fatalf("Push() unexpected error: %v", err)
	}

	if !resp.Success {
		t.Error("Push() success = false")
	}
	if resp.Processed != 1 {
		t.Errorf("Processed = %d, want 1", resp.Processed)
	}
	if len(resp.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0", len(resp.Conflicts))
	}

	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	if stored.IsDirty {
		t.Error("pushed record should be marked synced")
	}
	if stored.LastSyncedAt == nil {
		t.Error("pushed record should carry last_synced_at")
	}
}

func TestPushIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	batch := productBatch(validProduct("u1"))

	if _, err := svc.Push(ctx, batch); err != nil {
		t.Fatalf("first Push() unexpected error: %v", err)
	}

	env.clock.now = env.clock.now.Add(time.Minute)
	resp, err := svc.Push(ctx, batch)
	if err != nil {
		t.Fatalf("second Push() unexpected error: %v", err)
	}

	// The retry classifies as updated, never as a duplicate conflict.
	if resp.Processed != 1 {
		t.Errorf("second Push() processed = %d, want 1", resp.Processed)
	}
	if len(resp.Conflicts) != 0 {
		t.Errorf("second Push() conflicts = %d, want 0", len(resp.Conflicts))
	}

	pending, err := env.conflicts.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending conflicts = %d, want 0", len(pending))
	}
}

func TestPushDetectsConflictWhenServerDirtyAndNewer(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	// Server copy: dirty, updated 2025-01-02.
	server := validProduct("u2")
	server["name"] = "Server Widget"
	server["updated_at"] = "2025-01-02T00:00:00Z"
	if _, err := env.records.Create(ctx, env.records.Querier(), model.TableProducts, server, baseTime, false); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	// Client copy: updated 2025-01-01, strictly older.
	incoming := validProduct("u2")
	incoming["name"] = "Client Widget"
	incoming["updated_at"] = "2025-01-01T00:00:00Z"

	resp, err := svc.Push(ctx, productBatch(incoming))
	if err != nil {
		t.Fatalf("Push() unexpected error: %v", err)
	}

	if resp.Processed != 0 {
		t.Errorf("Processed = %d, want 0", resp.Processed)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(resp.Conflicts))
	}

	entry := resp.Conflicts[0]
	if entry.Status != "conflict" {
		t.Errorf("entry status = %q, want conflict", entry.Status)
	}
	if entry.UUID != "u2" || entry.Table != model.TableProducts {
		t.Errorf("entry identifies %s/%s", entry.Table, entry.UUID)
	}
	if entry.ResolutionStrategy != model.ResolutionManual {
		t.Errorf("entry resolution_strategy = %q, want manual", entry.ResolutionStrategy)
	}
	if entry.LocalData["name"] != "Client Widget" {
		t.Errorf("local snapshot name = %v", entry.LocalData["name"])
	}
	if entry.ServerData["name"] != "Server Widget" {
		t.Errorf("server snapshot name = %v", entry.ServerData["name"])
	}

	// The incoming data must not have been applied.
	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u2")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	if !stored.IsDirty {
		t.Error("conflicted server record should stay dirty")
	}

	pending, err := env.conflicts.GetPendingByRecord(ctx, model.TableProducts, "u2")
	if err != nil {
		t.Fatalf("GetPendingByRecord() unexpected error: %v", err)
	}
	if pending.Status != model.ConflictPending {
		t.Errorf("conflict status = %q, want pending", pending.Status)
	}
}

func TestPushAppliesWhenIncomingNotOlder(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	server := validProduct("u3")
	server["updated_at"] = "2025-01-02T00:00:00Z"
	if _, err := env.records.Create(ctx, env.records.Querier(), model.TableProducts, server, baseTime, false); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	incoming := validProduct("u3")
	incoming["name"] = "Newer Widget"
	incoming["updated_at"] = "2025-01-02T00:00:00Z" // equal, not older

	resp, err := svc.Push(ctx, productBatch(incoming))
	if err != nil {
		t.Fatalf("Push() unexpected error: %v", err)
	}
	if resp.Processed != 1 || len(resp.Conflicts) != 0 {
		t.Fatalf("Push() = processed %d, conflicts %d; want 1, 0", resp.Processed, len(resp.Conflicts))
	}

	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u3")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	snap, err := stored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() unexpected error: %v", err)
	}
	if snap["name"] != "Newer Widget" {
		t.Errorf("applied name = %v, want Newer Widget", snap["name"])
	}
	if stored.IsDirty {
		t.Error("applied record should be marked synced")
	}
}

func TestPushAppliesWhenServerClean(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	// Server copy is newer but holds no unconfirmed changes.
	server := validProduct("u4")
	server["updated_at"] = "2025-01-02T00:00:00Z"
	if _, err := env.records.Create(ctx, env.records.Querier(), model.TableProducts, server, baseTime, true); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	incoming := validProduct("u4")
	incoming["updated_at"] = "2025-01-01T00:00:00Z"

	resp, err := svc.Push(ctx, productBatch(incoming))
	if err != nil {
		t.Fatalf("Push() unexpected error: %v", err)
	}
	if resp.Processed != 1 || len(resp.Conflicts) != 0 {
		t.Errorf("Push() = processed %d, conflicts %d; want 1, 0", resp.Processed, len(resp.Conflicts))
	}
}

func TestPushRejectsInvalidBatchEntirely(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	bad := validProduct("u6")
	bad["selling_price"] = float64(1) // below unit_price

	req := model.PushRequest{Data: []model.TableChanges{
		{Table: model.TableProducts, Records: []model.Record{validProduct("u5"), bad}},
	}}

	_, err := svc.Push(ctx, req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Push() error = %v, want *ValidationError", err)
	}

	// All-or-nothing: the valid record must not have been applied.
	if _, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u5"); !errors.Is(err, repository.ErrRecordNotFound) {
		t.Errorf("GetByUUID(u5) error = %v, want ErrRecordNotFound", err)
	}
}

func TestPushRollsBackWholeBatchOnFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := env.pushService()
	ctx := context.Background()

	// Seed a record that will conflict, then break conflict persistence
	// so the second record of the batch fails mid-transaction.
	server := validProduct("u8")
	server["updated_at"] = "2025-01-02T00:00:00Z"
	if _, err := env.records.Create(ctx, env.records.Querier(), model.TableProducts, server, baseTime, false); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if _, err := env.db.Exec("DROP TABLE sync_conflicts"); err != nil {
		t.Fatalf("dropping sync_conflicts: %v", err)
	}

	conflicting := validProduct("u8")
	conflicting["updated_at"] = "2025-01-01T00:00:00Z"

	req := model.PushRequest{Data: []model.TableChanges{
		{Table: model.TableProducts, Records: []model.Record{validProduct("u7"), conflicting}},
	}}

	if _, err := svc.Push(ctx, req); err == nil {
		t.Fatal("Push() expected error, got nil")
	}

	// Record 1 of the batch must not be visible after the rollback.
	if _, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u7"); !errors.Is(err, repository.ErrRecordNotFound) {
		t.Errorf("GetByUUID(u7) error = %v, want ErrRecordNotFound", err)
	}
}
