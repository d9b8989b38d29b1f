package services

import (
	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/statemachine"
	"gorm.io/gorm"
)

// Services holds all service instances
type Services struct {
	Asset          *AssetService
	Movement       *MovementService
	Discrepancy    *DiscrepancyService
	Reconciliation *ReconciliationService
	Audit          *AuditService
	Notification   *NotificationService
	Job            *JobService
}

// NewServices creates all service instances
func NewServices(db *gorm.DB, l locker.Locker, worker *jobs.Worker, cfg *config.Config, sinks ...Sink) *Services {
	tx := NewTxRunner(db, l, cfg.LockTimeout, cfg.StoreTimeout)
	notificationSvc := NewNotificationService(worker, sinks...)
	auditSvc := NewAuditService(tx)
	discrepancySvc := NewDiscrepancyService(tx, auditSvc, notificationSvc, cfg.ReconciliationPriority)
	reconciliationSvc := NewReconciliationService(tx, auditSvc, discrepancySvc, notificationSvc)
	policy := statemachine.NewCompletionPolicy(cfg.SelfCompleteTypes)

	return &Services{
		Asset:          NewAssetService(tx, auditSvc),
		Movement:       NewMovementService(tx, auditSvc, reconciliationSvc, notificationSvc, policy),
		Discrepancy:    discrepancySvc,
		Reconciliation: reconciliationSvc,
		Audit:          auditSvc,
		Notification:   notificationSvc,
		Job:            NewJobService(worker, auditSvc, notificationSvc),
	}
}
