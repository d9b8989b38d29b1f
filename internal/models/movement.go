package models

import (
	"time"
)

// Movement is a request to relocate an asset or transfer its custody
type Movement struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	Type              string      `gorm:"size:20;not null;index" json:"type"`
	AssetID           uint        `gorm:"not null;index" json:"asset_id"`
	From              LocationRef `gorm:"embedded;embeddedPrefix:from_" json:"from"`
	To                LocationRef `gorm:"embedded;embeddedPrefix:to_" json:"to"`
	FromCustodian     string      `gorm:"size:128" json:"from_custodian"`
	ToCustodian       string      `gorm:"size:128" json:"to_custodian"`
	Status            string      `gorm:"size:20;not null;index" json:"status"`
	Reason            string      `gorm:"type:text" json:"reason"`
	RequestedBy       string      `gorm:"size:128;not null" json:"requested_by"`
	ApprovedBy        *string     `gorm:"size:128" json:"approved_by"`
	CompletedBy       *string     `gorm:"size:128" json:"completed_by"`
	RejectionReason   *string     `gorm:"type:text" json:"rejection_reason"`
	ObservedLocation  *string     `gorm:"size:255" json:"observed_location"`
	ObservedCustodian *string     `gorm:"size:128" json:"observed_custodian"`
	RequestDate       time.Time   `gorm:"not null" json:"request_date"`
	ApprovalDate      *time.Time  `json:"approval_date"`
	CompletionDate    *time.Time  `json:"completion_date"`
	CancelledAt       *time.Time  `json:"cancelled_at"`
	HasDiscrepancy    bool        `gorm:"not null" json:"has_discrepancy"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// TableName specifies the table name for Movement
func (Movement) TableName() string {
	return "movements"
}

// Movement type constants
const (
	MovementTypeTransfer    = "transfer"
	MovementTypeCheckout    = "checkout"
	MovementTypeReturn      = "return"
	MovementTypeMaintenance = "maintenance"
	MovementTypeDisposal    = "disposal"
)

// Movement status constants
const (
	MovementStatusRequested = "requested"
	MovementStatusApproved  = "approved"
	MovementStatusRejected  = "rejected"
	MovementStatusCompleted = "completed"
	MovementStatusCancelled = "cancelled"
)

var movementTypes = []string{
	MovementTypeTransfer, MovementTypeCheckout, MovementTypeReturn, MovementTypeMaintenance, MovementTypeDisposal,
}

// InFlightMovementStatuses are the statuses that hold an asset
var InFlightMovementStatuses = []string{MovementStatusRequested, MovementStatusApproved}

// IsValidMovementType reports whether t is a known movement type
func IsValidMovementType(t string) bool {
	return contains(movementTypes, t)
}

// IsValidMovementStatus reports whether s is a known movement status
func IsValidMovementStatus(s string) bool {
	return s == MovementStatusRequested || s == MovementStatusApproved || s == MovementStatusRejected ||
		s == MovementStatusCompleted || s == MovementStatusCancelled
}

// RequiresDestination is false only for disposals, which clear location
// and custodian instead of setting them.
func (m *Movement) RequiresDestination() bool {
	return m.Type != MovementTypeDisposal
}

// IsTerminal returns true for completed, rejected and cancelled movements
func (m *Movement) IsTerminal() bool {
	return m.Status == MovementStatusCompleted ||
		m.Status == MovementStatusRejected ||
		m.Status == MovementStatusCancelled
}

// IsInFlight returns true while the movement still holds its asset
func (m *Movement) IsInFlight() bool {
	return !m.IsTerminal()
}

// MayApprove returns true if movement can be approved
func (m *Movement) MayApprove() bool {
	return m.Status == MovementStatusRequested
}

// MayReject returns true if movement can be rejected
func (m *Movement) MayReject() bool {
	return m.Status == MovementStatusRequested
}

// MayCancel returns true if movement can be cancelled
func (m *Movement) MayCancel() bool {
	return m.Status == MovementStatusRequested || m.Status == MovementStatusApproved
}

// MayComplete returns true if movement can be completed. selfComplete lets
// a movement skip approval.
func (m *Movement) MayComplete(selfComplete bool) bool {
	if m.Status == MovementStatusApproved {
		return true
	}
	return selfComplete && m.Status == MovementStatusRequested
}

// MayDelete returns true only while nothing has happened to the request
func (m *Movement) MayDelete() bool {
	return m.Status == MovementStatusRequested
}

// AuditFields returns the fields tracked by the audit ledger
func (m *Movement) AuditFields() map[string]any {
	return map[string]any{
		"type":               m.Type,
		"asset_id":           m.AssetID,
		"from_location":      m.From.Key(),
		"to_location":        m.To.Key(),
		"from_custodian":     m.FromCustodian,
		"to_custodian":       m.ToCustodian,
		"status":             m.Status,
		"reason":             m.Reason,
		"requested_by":       m.RequestedBy,
		"request_date":       formatTime(&m.RequestDate),
		"approved_by":        stringValue(m.ApprovedBy),
		"completed_by":       stringValue(m.CompletedBy),
		"rejection_reason":   stringValue(m.RejectionReason),
		"observed_location":  stringValue(m.ObservedLocation),
		"observed_custodian": stringValue(m.ObservedCustodian),
		"approval_date":      formatTime(m.ApprovalDate),
		"completion_date":    formatTime(m.CompletionDate),
		"cancelled_at":       formatTime(m.CancelledAt),
		"has_discrepancy":    m.HasDiscrepancy,
	}
}
