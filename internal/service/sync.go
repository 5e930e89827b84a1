package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

// Transport delivers batches to the server-of-record and fetches its
// changes. Implemented by the HTTP API client in production and by
// in-process fakes in tests.
type Transport interface {
	Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error)
	Pull(ctx context.Context, since *time.Time, tables []string) (*model.PullResponse, error)
}

// Orchestrator runs the local replica's sync cycle: push every dirty
// record, then pull everything the server changed since the oldest
// watermark. Run is fire-and-continue — it reports the pre-sync counts
// and triggers the background worker, it never blocks on the actual
// reconciliation.
type Orchestrator struct {
	records       *repository.RecordStore
	transport     Transport
	clock         Clock
	maxRecords    int
	defaultWindow time.Duration
	interval      time.Duration

	trigger chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator. maxRecords caps the records
// per table in one push call; defaultWindow bounds the first pull of a
// never-synced replica; interval enables periodic background cycles
// when greater than zero.
func NewOrchestrator(records *repository.RecordStore, transport Transport, maxRecords int, defaultWindow, interval time.Duration, clock Clock) *Orchestrator {
	return &Orchestrator{
		records:       records,
		transport:     transport,
		clock:         clock,
		maxRecords:    maxRecords,
		defaultWindow: defaultWindow,
		interval:      interval,
		trigger:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		logger:        slog.Default(),
	}
}

// Start launches the background worker. A single worker processes the
// tables sequentially, so there is never more than one in-flight push
// per entity type.
func (o *Orchestrator) Start() {
	go o.loop()
}

// Stop shuts the worker down and waits for an in-flight cycle to end.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	<-o.done
}

// Run reports the per-table unsynced counts and schedules a sync
// cycle. A trigger arriving while one is already queued is dropped;
// the queued cycle will pick the records up anyway.
func (o *Orchestrator) Run(ctx context.Context) (*model.SyncRunResponse, error) {
	unsynced := make(map[string]int)
	total := 0
	for _, table := range model.SyncTables() {
		n, err := o.records.CountDirty(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("counting dirty %s: %w", table, err)
		}
		if n > 0 {
			unsynced[table] = n
		}
		total += n
	}

	pushStatus := model.StatusNoChanges
	if total > 0 {
		pushStatus = model.StatusSyncing
	}

	select {
	case o.trigger <- struct{}{}:
	default:
	}

	return &model.SyncRunResponse{
		Success:   true,
		Push:      model.PhaseReport{Status: pushStatus, Unsynced: unsynced, Total: total},
		Pull:      model.PhaseReport{Status: model.StatusSyncing},
		Timestamp: o.clock.Now(),
	}, nil
}

func (o *Orchestrator) loop() {
	defer close(o.done)

	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-o.trigger:
		case <-tick:
		case <-o.stopCh:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := o.Cycle(ctx); err != nil {
			o.logger.Error("sync cycle failed", "error", err)
		}
		cancel()
	}
}

// Cycle performs one push-then-pull reconciliation pass. Exported so a
// caller that needs synchronous completion (the CLI, tests) can run it
// directly; the HTTP path always goes through Run.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	if err := o.pushDirty(ctx); err != nil {
		return err
	}
	return o.pullChanges(ctx)
}

// pushDirty pushes each table's dirty snapshot in capped batches. Only
// records present in the snapshot are marked synced afterwards, so
// writes landing mid-push keep their dirty flag for the next cycle.
func (o *Orchestrator) pushDirty(ctx context.Context) error {
	for _, table := range model.SyncTables() {
		snapshot, err := o.records.ListDirty(ctx, table)
		if err != nil {
			return fmt.Errorf("snapshotting dirty %s: %w", table, err)
		}
		if len(snapshot) == 0 {
			continue
		}

		for start := 0; start < len(snapshot); start += o.maxRecords {
			end := min(start+o.maxRecords, len(snapshot))
			if err := o.pushChunk(ctx, table, snapshot[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) pushChunk(ctx context.Context, table string, chunk []model.StoredRecord) error {
	records := make([]model.Record, 0, len(chunk))
	for i := range chunk {
		rec, err := chunk[i].Snapshot()
		if err != nil {
			return fmt.Errorf("snapshotting %s/%s: %w", table, chunk[i].UUID, err)
		}
		records = append(records, rec)
	}

	resp, err := o.transport.Push(ctx, model.PushRequest{
		Data: []model.TableChanges{{Table: table, Records: records}},
	})
	if err != nil {
		return fmt.Errorf("pushing %s: %w", table, err)
	}

	conflicted := make(map[string]bool, len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		conflicted[c.UUID] = true
	}
	if len(resp.Conflicts) > 0 {
		o.logger.Warn("push returned conflicts", "table", table, "count", len(resp.Conflicts))
	}

	now := o.clock.Now()
	for i := range chunk {
		if conflicted[chunk[i].UUID] {
			continue
		}
		if err := o.records.MarkSynced(ctx, o.records.Querier(), table, chunk[i].UUID, now); err != nil {
			return fmt.Errorf("marking %s/%s synced: %w", table, chunk[i].UUID, err)
		}
	}

	return nil
}

// pullChanges fetches server changes since the oldest watermark and
// applies them locally. A locally-dirty record is never overwritten:
// its divergence surfaces as a conflict on the next push instead.
func (o *Orchestrator) pullChanges(ctx context.Context) error {
	since, err := o.records.OldestLastSyncedAt(ctx)
	if err != nil {
		return fmt.Errorf("finding pull watermark: %w", err)
	}
	if since == nil {
		w := o.clock.Now().Add(-o.defaultWindow)
		since = &w
	}

	resp, err := o.transport.Pull(ctx, since, nil)
	if err != nil {
		return fmt.Errorf("pulling changes: %w", err)
	}

	for table, records := range resp.Data {
		if err := o.applyPulled(ctx, table, records); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) applyPulled(ctx context.Context, table string, records []model.Record) error {
	tx, err := o.records.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := o.clock.Now()
	applied := 0
	for _, rec := range records {
		existing, err := o.records.GetByUUID(ctx, tx, table, rec.UUID())
		if errors.Is(err, repository.ErrRecordNotFound) {
			if _, err := o.records.Create(ctx, tx, table, rec, now, true); err != nil {
				return fmt.Errorf("creating pulled %s/%s: %w", table, rec.UUID(), err)
			}
			applied++
			continue
		}
		if err != nil {
			return err
		}
		if existing.IsDirty {
			continue
		}

		payload, err := model.PayloadOf(rec)
		if err != nil {
			return err
		}
		if err := o.records.UpdateData(ctx, tx, table, rec.UUID(), payload, now); err != nil {
			return err
		}
		if err := o.records.MarkSynced(ctx, tx, table, rec.UUID(), now); err != nil {
			return err
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	o.logger.Info("applied pulled changes", "table", table, "applied", applied, "received", len(records))
	return nil
}
