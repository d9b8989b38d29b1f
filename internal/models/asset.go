package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a tracked physical item. It exclusively owns its current
// location and custodian.
type Asset struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	AssetTag       string              `gorm:"size:64;not null;uniqueIndex" json:"asset_tag"`
	Name           string              `gorm:"size:255" json:"name"`
	Status         string              `gorm:"size:20;not null;index" json:"status"`
	Condition      string              `gorm:"size:50" json:"condition"`
	Location       LocationRef         `gorm:"embedded;embeddedPrefix:current_" json:"location"`
	LegacyLocation *string             `gorm:"column:location;size:255" json:"-"` // free text kept for older clients
	Custodian      string              `gorm:"size:128;index" json:"custodian"`
	HasDiscrepancy bool                `gorm:"not null;index" json:"has_discrepancy"`
	LastScannedAt  *time.Time          `json:"last_scanned_at"`
	PurchaseCost   decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"purchase_cost"`
	Version        uint                `gorm:"not null" json:"version"`
	DeletedAt      *time.Time          `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TableName specifies the table name for Asset
func (Asset) TableName() string {
	return "assets"
}

// Asset status constants
const (
	AssetStatusAvailable     = "available"
	AssetStatusInUse         = "in_use"
	AssetStatusInMaintenance = "in_maintenance"
	AssetStatusReserved      = "reserved"
	AssetStatusRetired       = "retired"
)

var assetStatuses = []string{
	AssetStatusAvailable, AssetStatusInUse, AssetStatusInMaintenance, AssetStatusReserved, AssetStatusRetired,
}

// IsValidAssetStatus reports whether s is a known asset status
func IsValidAssetStatus(s string) bool {
	return contains(assetStatuses, s)
}

// IsDeleted returns true once the asset has been soft-deleted
func (a *Asset) IsDeleted() bool {
	return a.DeletedAt != nil
}

// IsRetired returns true for disposed assets
func (a *Asset) IsRetired() bool {
	return a.Status == AssetStatusRetired
}

// CurrentLocation returns the authoritative location, migrating the legacy
// free-text column when the normalized reference was never populated.
func (a *Asset) CurrentLocation() LocationRef {
	if a.Location.IsZero() && a.LegacyLocation != nil {
		return ParseLocationRef(*a.LegacyLocation)
	}
	return a.Location
}

// SetLocation updates the normalized reference and mirrors it into the
// legacy column.
func (a *Asset) SetLocation(ref LocationRef) {
	a.Location = ref
	if ref.IsZero() {
		a.LegacyLocation = nil
		return
	}
	legacy := ref.Key()
	a.LegacyLocation = &legacy
}

// AuditFields returns the fields tracked by the audit ledger
func (a *Asset) AuditFields() map[string]any {
	cost := any(nil)
	if a.PurchaseCost.Valid {
		cost = a.PurchaseCost.Decimal.StringFixed(2)
	}
	return map[string]any{
		"asset_tag":       a.AssetTag,
		"name":            a.Name,
		"status":          a.Status,
		"condition":       a.Condition,
		"location":        a.CurrentLocation().Key(),
		"custodian":       a.Custodian,
		"has_discrepancy": a.HasDiscrepancy,
		"last_scanned_at": formatTime(a.LastScannedAt),
		"purchase_cost":   cost,
		"deleted_at":      formatTime(a.DeletedAt),
	}
}

// AssetResponse is the JSON response format
type AssetResponse struct {
	ID             uint        `json:"id"`
	AssetTag       string      `json:"asset_tag"`
	Name           string      `json:"name"`
	Status         string      `json:"status"`
	Condition      string      `json:"condition"`
	Location       LocationRef `json:"location"`
	LocationText   string      `json:"location_text"`
	Custodian      string      `json:"custodian"`
	HasDiscrepancy bool        `json:"has_discrepancy"`
	LastScannedAt  *time.Time  `json:"last_scanned_at"`
	PurchaseCost   *string     `json:"purchase_cost"`
	Version        uint        `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ToResponse converts Asset to AssetResponse
func (a *Asset) ToResponse() AssetResponse {
	loc := a.CurrentLocation()
	resp := AssetResponse{
		ID:             a.ID,
		AssetTag:       a.AssetTag,
		Name:           a.Name,
		Status:         a.Status,
		Condition:      a.Condition,
		Location:       loc,
		LocationText:   loc.String(),
		Custodian:      a.Custodian,
		HasDiscrepancy: a.HasDiscrepancy,
		LastScannedAt:  a.LastScannedAt,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.PurchaseCost.Valid {
		cost := a.PurchaseCost.Decimal.StringFixed(2)
		resp.PurchaseCost = &cost
	}
	return resp
}
