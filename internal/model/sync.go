package model

import "time"

// Record classifications produced by the push reconciler.
const (
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeConflicted = "conflicted"
)

// TableChanges is one table's slice of changed records in a push batch.
type TableChanges struct {
	Table   string   `json:"table"`
	Records []Record `json:"records"`
}

// PushRequest is a client batch of changed records grouped by table.
type PushRequest struct {
	Data []TableChanges `json:"data"`
}

// ConflictEntry is the wire form of a newly detected conflict in a
// push response.
type ConflictEntry struct {
	Status             string `json:"status"`
	Table              string `json:"table"`
	UUID               string `json:"uuid"`
	LocalData          Record `json:"local_data"`
	ServerData         Record `json:"server_data"`
	ResolutionStrategy string `json:"resolution_strategy"`
}

// PushResponse reports the outcome of a push batch.
type PushResponse struct {
	Success   bool            `json:"success"`
	Processed int             `json:"processed"`
	Conflicts []ConflictEntry `json:"conflicts"`
	Timestamp time.Time       `json:"timestamp"`
}

// PullResponse returns server records changed since the watermark,
// grouped by table. Tables with no changes carry no key at all.
type PullResponse struct {
	Success   bool                `json:"success"`
	Data      map[string][]Record `json:"data"`
	Timestamp time.Time           `json:"timestamp"`
}

// ConflictRef identifies a disputed record in a resolve request.
type ConflictRef struct {
	Table      string `json:"table"`
	UUID       string `json:"uuid"`
	LocalData  Record `json:"local_data,omitempty"`
	ServerData Record `json:"server_data,omitempty"`
}

// ResolveRequest settles one conflict with the chosen side.
type ResolveRequest struct {
	Conflict   ConflictRef `json:"conflict"`
	Resolution string      `json:"resolution"`
}

// ResolveResponse reports the outcome of a resolution call.
type ResolveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Orchestrator statuses.
const (
	StatusSyncing   = "syncing"
	StatusNoChanges = "no_changes"
)

// PhaseReport is one orchestrator phase: how many records it found to
// work on and whether work was scheduled.
type PhaseReport struct {
	Status   string         `json:"status"`
	Unsynced map[string]int `json:"unsynced,omitempty"`
	Total    int            `json:"total"`
}

// SyncRunResponse is the orchestrator's synchronous report. The actual
// reconciliation runs in the background after this is returned.
type SyncRunResponse struct {
	Success   bool        `json:"success"`
	Push      PhaseReport `json:"push"`
	Pull      PhaseReport `json:"pull"`
	Timestamp time.Time   `json:"timestamp"`
}
