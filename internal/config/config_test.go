package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBDriver != "mysql" {
		t.Errorf("DBDriver = %q, want mysql", cfg.DBDriver)
	}
	if cfg.MaxTables != 100 || cfg.MaxRecordsPerTable != 500 {
		t.Errorf("batch caps = %d/%d, want 100/500", cfg.MaxTables, cfg.MaxRecordsPerTable)
	}
	if cfg.SyncRateQuota != 100 || cfg.SyncRateWindow != time.Hour {
		t.Errorf("rate limit = %d/%v, want 100/1h", cfg.SyncRateQuota, cfg.SyncRateWindow)
	}
	if cfg.PullWindow != 30*24*time.Hour {
		t.Errorf("PullWindow = %v, want 720h", cfg.PullWindow)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0", cfg.SyncInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SYNC_MAX_RECORDS", "50")
	t.Setenv("SYNC_RATE_WINDOW", "10m")
	t.Setenv("SYNC_INTERVAL", "5m")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.MaxRecordsPerTable != 50 {
		t.Errorf("MaxRecordsPerTable = %d, want 50", cfg.MaxRecordsPerTable)
	}
	if cfg.SyncRateWindow != 10*time.Minute {
		t.Errorf("SyncRateWindow = %v, want 10m", cfg.SyncRateWindow)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SYNC_MAX_TABLES", "-3")
	t.Setenv("SYNC_RATE_QUOTA", "lots")
	t.Setenv("SYNC_PULL_WINDOW", "soon")

	cfg := Load()

	if cfg.MaxTables != 100 {
		t.Errorf("MaxTables = %d, want fallback 100", cfg.MaxTables)
	}
	if cfg.SyncRateQuota != 100 {
		t.Errorf("SyncRateQuota = %d, want fallback 100", cfg.SyncRateQuota)
	}
	if cfg.PullWindow != 30*24*time.Hour {
		t.Errorf("PullWindow = %v, want fallback 720h", cfg.PullWindow)
	}
}
