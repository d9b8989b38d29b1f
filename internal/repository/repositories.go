package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleRecord is returned when an optimistic version check fails
var ErrStaleRecord = errors.New("record was modified concurrently")

// Repositories holds all repository instances
type Repositories struct {
	Asset       AssetRepository
	Movement    MovementRepository
	Discrepancy DiscrepancyRepository
	Audit       AuditRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Asset:       NewAssetRepository(db),
		Movement:    NewMovementRepository(db),
		Discrepancy: NewDiscrepancyRepository(db),
		Audit:       NewAuditRepository(db),
	}
}

// forUpdate adds a row lock on dialects that support SELECT ... FOR UPDATE.
// SQLite serializes writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	default:
		return db
	}
}
