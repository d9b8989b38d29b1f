package models

import (
	"encoding/hex"
	"encoding/json"
	"reflect"
	"time"

	"golang.org/x/crypto/blake2b"
)

// AuditEntry is one append-only record in the audit ledger. Entries form a
// hash chain per entity; an entry survives even if its entity is deleted.
type AuditEntry struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	EntityType     string         `gorm:"size:50;not null;uniqueIndex:idx_audit_entity_seq,priority:1" json:"entity_type"`
	EntityID       uint           `gorm:"not null;uniqueIndex:idx_audit_entity_seq,priority:2" json:"entity_id"`
	Sequence       uint           `gorm:"not null;uniqueIndex:idx_audit_entity_seq,priority:3" json:"sequence"`
	Action         string         `gorm:"size:50;not null" json:"action"`
	ActorID        string         `gorm:"size:128;not null;index" json:"actor_id"`
	PreviousValues map[string]any `gorm:"serializer:json;type:text" json:"previous_values"`
	NewValues      map[string]any `gorm:"serializer:json;type:text" json:"new_values"`
	Timestamp      time.Time      `gorm:"column:recorded_at;not null;index" json:"timestamp"`
	IPAddress      string         `gorm:"size:45" json:"ip_address"`
	UserAgent      string         `gorm:"size:255" json:"user_agent"`
	PrevHash       string         `gorm:"size:64" json:"prev_hash"`
	Hash           string         `gorm:"size:64;not null" json:"hash"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// Audited entity types
const (
	EntityAsset       = "Asset"
	EntityMovement    = "Movement"
	EntityDiscrepancy = "Discrepancy"
	EntitySession     = "Session"
)

// Audit actions
const (
	AuditActionCreate   = "Create"
	AuditActionUpdate   = "Update"
	AuditActionDelete   = "Delete"
	AuditActionApprove  = "Approve"
	AuditActionReject   = "Reject"
	AuditActionComplete = "Complete"
	AuditActionCancel   = "Cancel"
	AuditActionStart    = "Start"
	AuditActionResolve  = "Resolve"
	AuditActionClose    = "Close"
	AuditActionScan     = "Scan"
	AuditActionLogin    = "Login"
	AuditActionLogout   = "Logout"
)

// AuditTimePrecision is the coarsest precision among supported stores, so a
// timestamp hashes identically before and after a round trip.
const AuditTimePrecision = time.Millisecond

// ComputeHash returns the chain hash of the entry given its predecessor's hash
func (e *AuditEntry) ComputeHash() string {
	payload, _ := json.Marshal(struct {
		EntityType string         `json:"entity_type"`
		EntityID   uint           `json:"entity_id"`
		Sequence   uint           `json:"sequence"`
		Action     string         `json:"action"`
		ActorID    string         `json:"actor_id"`
		Previous   map[string]any `json:"previous"`
		Next       map[string]any `json:"next"`
		Timestamp  string         `json:"timestamp"`
		IPAddress  string         `json:"ip_address"`
		PrevHash   string         `json:"prev_hash"`
	}{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Sequence:   e.Sequence,
		Action:     e.Action,
		ActorID:    e.ActorID,
		Previous:   e.PreviousValues,
		Next:       e.NewValues,
		Timestamp:  e.Timestamp.UTC().Truncate(AuditTimePrecision).Format(time.RFC3339Nano),
		IPAddress:  e.IPAddress,
		PrevHash:   e.PrevHash,
	})
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NormalizeValues round-trips values through JSON so the in-memory map is
// exactly what the store will hand back.
func NormalizeValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return values
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return values
	}
	return out
}

// DiffFields keeps only the keys whose value changed between before and after
func DiffFields(before, after map[string]any) (map[string]any, map[string]any) {
	prev := map[string]any{}
	next := map[string]any{}
	for k, v := range after {
		old, ok := before[k]
		if ok && reflect.DeepEqual(old, v) {
			continue
		}
		prev[k] = old
		next[k] = v
	}
	for k, old := range before {
		if _, ok := after[k]; !ok {
			prev[k] = old
			next[k] = nil
		}
	}
	return prev, next
}
