package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported database drivers. The server-of-record runs on MySQL; the
// embedded local replica (and the tests) run on pure-Go SQLite.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// NewDB opens a database connection pool for the given driver and DSN.
func NewDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite has a single writer; serialize access through one conn.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
		return db, nil
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Warn("database ping failed — continuing without DB", "error", err)
	}

	return db, nil
}

// Migrate creates the engine's tables if they do not exist yet.
// Timestamps are stored as unix-epoch milliseconds so that watermark
// comparisons behave identically on both drivers.
func Migrate(db *sql.DB, driver string) error {
	pk := "INTEGER PRIMARY KEY"
	if driver == DriverMySQL {
		pk = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}

	recordTable := `
	CREATE TABLE IF NOT EXISTS %s (
		id %s,
		uuid VARCHAR(36) NOT NULL UNIQUE,
		data TEXT NOT NULL,
		is_dirty TINYINT NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		last_synced_at BIGINT NULL
	)`

	stmts := []string{
		fmt.Sprintf(recordTable, "products", pk),
		fmt.Sprintf(recordTable, "customers", pk),
		fmt.Sprintf(recordTable, "transactions", pk),
		fmt.Sprintf(recordTable, "inventory_adjustments", pk),
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id %s,
		table_name VARCHAR(64) NOT NULL,
		record_uuid VARCHAR(36) NOT NULL,
		local_data TEXT NOT NULL,
		server_data TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		resolution_strategy VARCHAR(32) NULL,
		resolved_by VARCHAR(255) NULL,
		resolved_at BIGINT NULL,
		created_at BIGINT NOT NULL
	)`, pk),
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS api_tokens (
		id %s,
		name VARCHAR(255) NOT NULL,
		secret_hash VARCHAR(255) NOT NULL,
		abilities TEXT NOT NULL,
		last_used_at BIGINT NULL,
		expires_at BIGINT NULL,
		revoked_at BIGINT NULL,
		created_at BIGINT NOT NULL
	)`, pk),
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX idx_products_updated_at ON products (updated_at)",
		"CREATE INDEX idx_customers_updated_at ON customers (updated_at)",
		"CREATE INDEX idx_transactions_updated_at ON transactions (updated_at)",
		"CREATE INDEX idx_inventory_adjustments_updated_at ON inventory_adjustments (updated_at)",
		"CREATE INDEX idx_sync_conflicts_status ON sync_conflicts (status)",
	}

	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil && !isIndexExistsError(err) {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

// isIndexExistsError matches the duplicate-index errors of both
// drivers; MySQL has no IF NOT EXISTS for indexes.
func isIndexExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key name") || strings.Contains(msg, "already exists")
}

// millis converts a time to the epoch-millisecond column form.
func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts an epoch-millisecond column value back to UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
