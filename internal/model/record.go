package model

import (
	"encoding/json"
	"time"
)

// Table names of the four syncable collections.
const (
	TableProducts             = "products"
	TableCustomers            = "customers"
	TableTransactions         = "transactions"
	TableInventoryAdjustments = "inventory_adjustments"
)

// SyncTables lists every syncable table in stable order.
func SyncTables() []string {
	return []string{TableProducts, TableCustomers, TableTransactions, TableInventoryAdjustments}
}

// IsSyncTable reports whether name is one of the four syncable collections.
func IsSyncTable(name string) bool {
	switch name {
	case TableProducts, TableCustomers, TableTransactions, TableInventoryAdjustments:
		return true
	}
	return false
}

// Record is a wire-form record: the entity fields plus the uuid
// correlation key and optional timestamps, exactly as received from or
// sent to a replica. Field sets differ per table, so it stays a map.
type Record map[string]any

// UUID returns the record's correlation key, or "" when absent.
func (r Record) UUID() string {
	s, _ := r["uuid"].(string)
	return s
}

// Time parses the named field as an RFC 3339 timestamp, falling back
// to a plain calendar date. Returns false when the field is absent or
// not a valid timestamp.
func (r Record) Time(field string) (time.Time, bool) {
	s, ok := r[field].(string)
	if !ok {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// StoredRecord is a syncable record as held in the entity store: the
// JSON entity payload alongside the per-record sync metadata. The
// numeric id never crosses the wire; uuid is the sole correlation key.
type StoredRecord struct {
	ID           int64
	UUID         string
	Data         json.RawMessage
	IsDirty      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt *time.Time
}

// Snapshot returns the record in wire form: the entity payload merged
// with uuid and the storage-maintained timestamps.
func (s *StoredRecord) Snapshot() (Record, error) {
	rec := Record{}
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &rec); err != nil {
			return nil, err
		}
	}
	rec["uuid"] = s.UUID
	rec["created_at"] = s.CreatedAt.UTC().Format(time.RFC3339)
	rec["updated_at"] = s.UpdatedAt.UTC().Format(time.RFC3339)
	return rec, nil
}

// PayloadOf strips the sync-bookkeeping fields from a wire record,
// leaving only the entity payload for storage.
func PayloadOf(rec Record) (json.RawMessage, error) {
	payload := rec.Clone()
	delete(payload, "uuid")
	delete(payload, "id")
	delete(payload, "created_at")
	delete(payload, "updated_at")
	delete(payload, "is_dirty")
	delete(payload, "last_synced_at")
	return json.Marshal(payload)
}
