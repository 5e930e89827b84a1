package model

import (
	"encoding/json"
	"time"
)

// Conflict lifecycle states. Pending is the only initial state;
// resolved and ignored are terminal.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
	ConflictIgnored  = "ignored"
)

// Resolution choices accepted by the state machine.
const (
	ResolutionLocal  = "local"
	ResolutionServer = "server"
	ResolutionManual = "manual"
)

// SyncConflict records a detected divergence: both replicas hold
// unsynced changes to the same record. Created only by the push
// reconciler, terminated only by an explicit resolution call.
type SyncConflict struct {
	ID                 int64           `json:"id"`
	TableName          string          `json:"table_name"`
	RecordUUID         string          `json:"record_uuid"`
	LocalData          json.RawMessage `json:"local_data"`
	ServerData         json.RawMessage `json:"server_data"`
	Status             string          `json:"status"`
	ResolutionStrategy string          `json:"resolution_strategy,omitempty"`
	ResolvedBy         string          `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Terminal reports whether the conflict has left the pending state.
func (c *SyncConflict) Terminal() bool {
	return c.Status == ConflictResolved || c.Status == ConflictIgnored
}

// FieldDiff holds both sides of one differing field. A side that does
// not carry the field at all is nil.
type FieldDiff struct {
	Local  any `json:"local"`
	Server any `json:"server"`
}
