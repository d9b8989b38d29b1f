package handlers

import (
	"github.com/sjperalta/custodia-api/internal/services"
	"gorm.io/gorm"
)

// Handlers holds all handler instances
type Handlers struct {
	Health      *HealthHandler
	Asset       *AssetHandler
	Movement    *MovementHandler
	Discrepancy *DiscrepancyHandler
	Scan        *ScanHandler
	Audit       *AuditHandler
	Job         *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services, db *gorm.DB) *Handlers {
	return &Handlers{
		Health:      NewHealthHandler(db),
		Asset:       NewAssetHandler(svcs.Asset),
		Movement:    NewMovementHandler(svcs.Movement),
		Discrepancy: NewDiscrepancyHandler(svcs.Discrepancy),
		Scan:        NewScanHandler(svcs.Reconciliation),
		Audit:       NewAuditHandler(svcs.Audit),
		Job:         NewJobHandler(svcs.Job),
	}
}
