package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

func (e *testEnv) conflictService() *ConflictService {
	return NewConflictService(e.conflicts, e.records, e.clock)
}

// seedConflict runs a divergent push so a real pending conflict exists:
// the server copy is dirty with name "Server Widget", the rejected
// client copy carried name "Client Widget".
func (e *testEnv) seedConflict(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()

	server := validProduct(id)
	server["name"] = "Server Widget"
	server["updated_at"] = "2025-01-02T00:00:00Z"
	if _, err := e.records.Create(ctx, e.records.Querier(), model.TableProducts, server, baseTime, false); err != nil {
		t.Fatalf("seeding server record: %v", err)
	}

	incoming := validProduct(id)
	incoming["name"] = "Client Widget"
	incoming["updated_at"] = "2025-01-01T00:00:00Z"

	resp, err := e.pushService().Push(ctx, productBatch(incoming))
	if err != nil {
		t.Fatalf("seeding conflict push: %v", err)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatalf("seeding push produced %d conflicts, want 1", len(resp.Conflicts))
	}
}

func TestResolveServerAppliesServerData(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	if err := svc.Resolve(ctx, model.TableProducts, "u1", model.ResolutionServer, "admin"); err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}

	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	snap, err := stored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() unexpected error: %v", err)
	}
	if snap["name"] != "Server Widget" {
		t.Errorf("name = %v, want Server Widget", snap["name"])
	}
	if stored.IsDirty {
		t.Error("server-resolved record should be marked synced")
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending conflicts = %d, want 0", len(pending))
	}
}

func TestResolveLocalKeepsRecordDirty(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	if err := svc.Resolve(ctx, model.TableProducts, "u1", model.ResolutionLocal, "admin"); err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}

	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	snap, err := stored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() unexpected error: %v", err)
	}
	if snap["name"] != "Client Widget" {
		t.Errorf("name = %v, want Client Widget", snap["name"])
	}

	// The local version still awaits delivery on the next push cycle.
	if !stored.IsDirty {
		t.Error("local-resolved record should stay dirty")
	}
}

func TestResolveIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	if err := svc.Resolve(ctx, model.TableProducts, "u1", model.ResolutionServer, "admin"); err != nil {
		t.Fatalf("first Resolve() unexpected error: %v", err)
	}

	err := svc.Resolve(ctx, model.TableProducts, "u1", model.ResolutionLocal, "admin")
	if !errors.Is(err, repository.ErrConflictNotFound) {
		t.Fatalf("second Resolve() error = %v, want ErrConflictNotFound", err)
	}

	// The second attempt must not have flipped the record.
	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	snap, err := stored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() unexpected error: %v", err)
	}
	if snap["name"] != "Server Widget" {
		t.Errorf("name = %v, first resolution must stand", snap["name"])
	}
}

func TestResolveRejectsUnknownStrategy(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")

	err := env.conflictService().Resolve(context.Background(), model.TableProducts, "u1", "merge", "admin")
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("Resolve() error = %v, want ErrInvalidResolution", err)
	}
}

func TestResolveWithoutConflict(t *testing.T) {
	env := newTestEnv(t)

	err := env.conflictService().Resolve(context.Background(), model.TableProducts, "nope", model.ResolutionServer, "admin")
	if !errors.Is(err, repository.ErrConflictNotFound) {
		t.Errorf("Resolve() error = %v, want ErrConflictNotFound", err)
	}
}

func TestIgnoreLeavesRecordUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	before, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}

	if err := svc.Ignore(ctx, model.TableProducts, "u1", "admin"); err != nil {
		t.Fatalf("Ignore() unexpected error: %v", err)
	}

	after, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	if string(after.Data) != string(before.Data) || after.IsDirty != before.IsDirty {
		t.Error("ignoring a conflict must not touch the record")
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("updated_at moved from %v to %v", before.UpdatedAt, after.UpdatedAt)
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() unexpected error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending conflicts = %d, want 0", len(pending))
	}
}

func TestDiffReportsDifferingFields(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() unexpected error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending conflicts = %d, want 1", len(pending))
	}

	diff, err := svc.Diff(ctx, pending[0].ID)
	if err != nil {
		t.Fatalf("Diff() unexpected error: %v", err)
	}

	name, ok := diff["name"]
	if !ok {
		t.Fatalf("diff misses name: %v", diff)
	}
	if name.Local != "Client Widget" || name.Server != "Server Widget" {
		t.Errorf("name diff = %+v", name)
	}
	if _, ok := diff["product_code"]; ok {
		t.Error("identical product_code should not appear in the diff")
	}
}

func TestDiffRecordsFieldUnion(t *testing.T) {
	local := model.Record{"name": "A", "stock_quantity": float64(3), "note": "only local"}
	server := model.Record{"name": "A", "stock_quantity": float64(5), "supplier": "only server"}

	diff := DiffRecords(local, server)

	if _, ok := diff["name"]; ok {
		t.Error("equal field name should not appear")
	}
	if d := diff["stock_quantity"]; d.Local != float64(3) || d.Server != float64(5) {
		t.Errorf("stock_quantity diff = %+v", d)
	}
	if d := diff["note"]; d.Local != "only local" || d.Server != nil {
		t.Errorf("note diff = %+v", d)
	}
	if d := diff["supplier"]; d.Local != nil || d.Server != "only server" {
		t.Errorf("supplier diff = %+v", d)
	}
}

func TestResolveRecreatesVanishedRecord(t *testing.T) {
	env := newTestEnv(t)
	env.seedConflict(t, "u1")
	svc := env.conflictService()
	ctx := context.Background()

	if _, err := env.db.Exec("DELETE FROM products"); err != nil {
		t.Fatalf("deleting record: %v", err)
	}

	if err := svc.Resolve(ctx, model.TableProducts, "u1", model.ResolutionServer, "admin"); err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}

	stored, err := env.records.GetByUUID(ctx, env.records.Querier(), model.TableProducts, "u1")
	if err != nil {
		t.Fatalf("GetByUUID() unexpected error: %v", err)
	}
	snap, err := stored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() unexpected error: %v", err)
	}
	if snap["name"] != "Server Widget" {
		t.Errorf("name = %v, want Server Widget", snap["name"])
	}
	if stored.IsDirty {
		t.Error("recreated server-resolved record should be marked synced")
	}
}
