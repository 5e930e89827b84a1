package service

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stocksync/stocksync-go/internal/repository"
)

var baseTime = time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)

// fakeClock pins the engine's time and keeps the wall-clock precedence
// rule.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                { return c.now }
func (c *fakeClock) NewerThan(a, b time.Time) bool { return a.After(b) }

type testEnv struct {
	db        *sql.DB
	records   *repository.RecordStore
	conflicts *repository.ConflictStore
	clock     *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := repository.NewDB(repository.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("NewDB() unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := repository.Migrate(db, repository.DriverSQLite); err != nil {
		t.Fatalf("Migrate() unexpected error: %v", err)
	}

	return &testEnv{
		db:        db,
		records:   repository.NewRecordStore(db),
		conflicts: repository.NewConflictStore(db),
		clock:     &fakeClock{now: baseTime},
	}
}

func (e *testEnv) pushService() *PushService {
	return NewPushService(e.records, e.conflicts, NewBatchValidator(100, 500), e.clock)
}
