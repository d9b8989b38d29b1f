package models

import (
	"time"
)

// Discrepancy records a mismatch between an asset's authoritative state and
// an observed state. Discrepancies are never hard-deleted.
type Discrepancy struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Type          string     `gorm:"size:20;not null;index:idx_discrepancy_asset_type,priority:2" json:"type"`
	AssetID       uint       `gorm:"not null;index:idx_discrepancy_asset_type,priority:1" json:"asset_id"`
	MovementID    *uint      `gorm:"index" json:"movement_id"`
	Description   string     `gorm:"type:text;not null" json:"description"`
	ExpectedValue string     `gorm:"size:255" json:"expected_value"`
	ActualValue   string     `gorm:"size:255" json:"actual_value"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	Priority      string     `gorm:"size:20;not null" json:"priority"`
	Source        string     `gorm:"size:20;not null" json:"source"`
	ReportedBy    string     `gorm:"size:128;not null" json:"reported_by"`
	DetectedAt    time.Time  `gorm:"not null" json:"detected_at"`
	StartedAt     *time.Time `json:"started_at"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	ResolvedBy    *string    `gorm:"size:128" json:"resolved_by"`
	Resolution    *string    `gorm:"type:text" json:"resolution"`
	ClosedAt      *time.Time `json:"closed_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Discrepancy
func (Discrepancy) TableName() string {
	return "discrepancies"
}

// Discrepancy type constants
const (
	DiscrepancyTypeLocation  = "location"
	DiscrepancyTypeCustodian = "custodian"
	DiscrepancyTypeCondition = "condition"
	DiscrepancyTypeMissing   = "missing"
	DiscrepancyTypeDuplicate = "duplicate"
	DiscrepancyTypeOther     = "other"
)

// Discrepancy status constants
const (
	DiscrepancyStatusOpen       = "open"
	DiscrepancyStatusInProgress = "in_progress"
	DiscrepancyStatusResolved   = "resolved"
	DiscrepancyStatusClosed     = "closed"
)

// Priority constants
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Discrepancy source constants
const (
	DiscrepancySourceReconciliation = "reconciliation"
	DiscrepancySourceManual         = "manual"
)

var (
	discrepancyTypes = []string{
		DiscrepancyTypeLocation, DiscrepancyTypeCustodian, DiscrepancyTypeCondition,
		DiscrepancyTypeMissing, DiscrepancyTypeDuplicate, DiscrepancyTypeOther,
	}
	priorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
)

// ActiveDiscrepancyStatuses keep the asset flagged
var ActiveDiscrepancyStatuses = []string{DiscrepancyStatusOpen, DiscrepancyStatusInProgress}

// IsValidDiscrepancyType reports whether t is a known discrepancy type
func IsValidDiscrepancyType(t string) bool {
	return contains(discrepancyTypes, t)
}

// IsValidPriority reports whether p is a known priority
func IsValidPriority(p string) bool {
	return contains(priorities, p)
}

// IsActive returns true while the discrepancy still flags its asset
func (d *Discrepancy) IsActive() bool {
	return d.Status == DiscrepancyStatusOpen || d.Status == DiscrepancyStatusInProgress
}

// MayStart returns true if work can begin on the discrepancy
func (d *Discrepancy) MayStart() bool {
	return d.Status == DiscrepancyStatusOpen
}

// MayResolve returns true if the discrepancy can be resolved
func (d *Discrepancy) MayResolve() bool {
	return d.IsActive()
}

// MayClose returns true if the discrepancy can be closed
func (d *Discrepancy) MayClose() bool {
	return d.Status == DiscrepancyStatusResolved
}

// AuditFields returns the fields tracked by the audit ledger
func (d *Discrepancy) AuditFields() map[string]any {
	var movementID any
	if d.MovementID != nil {
		movementID = *d.MovementID
	}
	return map[string]any{
		"type":           d.Type,
		"asset_id":       d.AssetID,
		"movement_id":    movementID,
		"description":    d.Description,
		"expected_value": d.ExpectedValue,
		"actual_value":   d.ActualValue,
		"status":         d.Status,
		"priority":       d.Priority,
		"source":         d.Source,
		"started_at":     formatTime(d.StartedAt),
		"resolved_at":    formatTime(d.ResolvedAt),
		"resolved_by":    stringValue(d.ResolvedBy),
		"resolution":     stringValue(d.Resolution),
		"closed_at":      formatTime(d.ClosedAt),
	}
}
