package service

import (
	"context"
	"fmt"
	"time"

	"github.com/stocksync/stocksync-go/internal/model"
	"github.com/stocksync/stocksync-go/internal/repository"
)

// PullService returns server records changed since a client watermark.
// Read-only: pull always reports the current server truth and never
// touches conflict state.
type PullService struct {
	records       *repository.RecordStore
	defaultWindow time.Duration
	clock         Clock
}

// NewPullService creates a new PullService. defaultWindow is how far
// back to look when the client supplies no watermark.
func NewPullService(records *repository.RecordStore, defaultWindow time.Duration, clock Clock) *PullService {
	return &PullService{records: records, defaultWindow: defaultWindow, clock: clock}
}

// Changes returns every record updated strictly after the watermark,
// grouped by table. A nil since defaults to the configured window
// before now; empty tables defaults to all four collections. Tables
// with no changes are omitted from the result entirely.
func (s *PullService) Changes(ctx context.Context, since *time.Time, tables []string) (*model.PullResponse, error) {
	now := s.clock.Now()

	watermark := now.Add(-s.defaultWindow)
	if since != nil {
		watermark = *since
	}

	if len(tables) == 0 {
		tables = model.SyncTables()
	}
	for _, table := range tables {
		if !model.IsSyncTable(table) {
			return nil, fmt.Errorf("%w: %q", repository.ErrUnknownTable, table)
		}
	}

	resp := &model.PullResponse{
		Success:   true,
		Data:      map[string][]model.Record{},
		Timestamp: now,
	}

	for _, table := range tables {
		stored, err := s.records.ListChangedSince(ctx, table, watermark)
		if err != nil {
			return nil, fmt.Errorf("listing %s changes: %w", table, err)
		}
		if len(stored) == 0 {
			continue
		}

		records := make([]model.Record, 0, len(stored))
		for i := range stored {
			rec, err := stored[i].Snapshot()
			if err != nil {
				return nil, fmt.Errorf("snapshotting %s/%s: %w", table, stored[i].UUID, err)
			}
			records = append(records, rec)
		}
		resp.Data[table] = records
	}

	return resp, nil
}
