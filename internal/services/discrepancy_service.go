package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/internal/statemachine"
	"github.com/sjperalta/custodia-api/pkg/logger"
	"gorm.io/gorm"
)

// DiscrepancyInput opens a discrepancy by hand
type DiscrepancyInput struct {
	AssetID       uint   `json:"asset_id" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=location custodian condition missing duplicate other"`
	Description   string `json:"description" validate:"max=2000"`
	ExpectedValue string `json:"expected_value" validate:"max=255"`
	ActualValue   string `json:"actual_value" validate:"max=255"`
	Priority      string `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	MovementID    *uint  `json:"movement_id"`
}

type DiscrepancyService struct {
	tx              *TxRunner
	audit           *AuditService
	notifier        *NotificationService
	defaultPriority string
}

func NewDiscrepancyService(tx *TxRunner, audit *AuditService, notifier *NotificationService, defaultPriority string) *DiscrepancyService {
	return &DiscrepancyService{
		tx:              tx,
		audit:           audit,
		notifier:        notifier,
		defaultPriority: defaultPriority,
	}
}

// Open records a manually reported discrepancy and flags its asset
func (s *DiscrepancyService) Open(ctx context.Context, actor Actor, input DiscrepancyInput) (d *models.Discrepancy, err error) {
	ctx, span := tracer.Start(ctx, "DiscrepancyService.Open")
	defer func() { endSpan(span, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	d = &models.Discrepancy{
		Type:          input.Type,
		AssetID:       input.AssetID,
		MovementID:    input.MovementID,
		Description:   strings.TrimSpace(input.Description),
		ExpectedValue: input.ExpectedValue,
		ActualValue:   input.ActualValue,
		Priority:      input.Priority,
		Source:        models.DiscrepancySourceManual,
	}

	err = s.tx.InAssetTx(ctx, input.AssetID, func(ctx context.Context, repos *repository.Repositories) error {
		asset, err := lockAsset(ctx, repos, input.AssetID)
		if err != nil {
			return err
		}

		var movement *models.Movement
		if input.MovementID != nil {
			movement, err = repos.Movement.FindForUpdate(ctx, *input.MovementID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ValidationError("movement_id", "does not exist")
			}
			if err != nil {
				return err
			}
		}

		assetBefore := asset.AuditFields()
		var movementBefore map[string]any
		if movement != nil {
			movementBefore = movement.AuditFields()
		}

		if err := s.open(ctx, repos, actor, asset, movement, d); err != nil {
			return err
		}

		if movement != nil && movementBefore["has_discrepancy"] != true {
			if err := repos.Movement.Update(ctx, movement); err != nil {
				return err
			}
			if err := s.audit.recordChange(ctx, repos, models.EntityMovement, movement.ID, models.AuditActionUpdate, actor, movementBefore, movement.AuditFields()); err != nil {
				return err
			}
		}
		return s.persistAssetFlag(ctx, repos, actor, asset, assetBefore)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "discrepancy opened",
		"discrepancy_id", d.ID, "asset_id", d.AssetID, "type", d.Type, "actor", actor.ID)
	s.notifier.Publish(discrepancyEvent(EventDiscrepancyOpened, d, actor))
	return d, nil
}

// open validates and stores a discrepancy inside the caller's transaction.
// It sets the asset's and movement's flags in memory only; the caller
// persists and audits them once.
func (s *DiscrepancyService) open(ctx context.Context, repos *repository.Repositories, actor Actor, asset *models.Asset, movement *models.Movement, d *models.Discrepancy) error {
	if err := requireText("description", d.Description); err != nil {
		return err
	}
	if !models.IsValidDiscrepancyType(d.Type) {
		return ValidationError("type", "is not a known discrepancy type")
	}
	if d.Priority == "" {
		d.Priority = s.defaultPriority
	}
	if !models.IsValidPriority(d.Priority) {
		return ValidationError("priority", "must be one of: low medium high critical")
	}
	if movement != nil {
		if movement.AssetID != asset.ID {
			return ValidationError("movement_id", "belongs to a different asset")
		}
		d.MovementID = &movement.ID
	}

	d.AssetID = asset.ID
	d.Status = models.DiscrepancyStatusOpen
	d.ReportedBy = actor.ID
	d.DetectedAt = time.Now().UTC()

	if err := repos.Discrepancy.Create(ctx, d); err != nil {
		return err
	}
	if err := s.audit.recordChange(ctx, repos, models.EntityDiscrepancy, d.ID, models.AuditActionCreate, actor, nil, d.AuditFields()); err != nil {
		return err
	}

	asset.HasDiscrepancy = true
	if movement != nil {
		movement.HasDiscrepancy = true
	}
	return nil
}

// Start marks that someone is working on the discrepancy
func (s *DiscrepancyService) Start(ctx context.Context, id uint, actor Actor) (d *models.Discrepancy, err error) {
	ctx, span := tracer.Start(ctx, "DiscrepancyService.Start")
	defer func() { endSpan(span, err) }()

	d, err = s.transition(ctx, id, actor, models.AuditActionStart, func(ctx context.Context, repos *repository.Repositories, d *models.Discrepancy) error {
		if err := statemachine.NewDiscrepancyFSM(d).Start(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		d.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(discrepancyEvent(EventDiscrepancyStarted, d, actor))
	return d, nil
}

// Resolve records the resolution. When it was the asset's last active
// discrepancy the asset's flag is cleared in the same transaction.
func (s *DiscrepancyService) Resolve(ctx context.Context, id uint, actor Actor, resolution string) (d *models.Discrepancy, err error) {
	ctx, span := tracer.Start(ctx, "DiscrepancyService.Resolve")
	defer func() { endSpan(span, err) }()

	resolution = strings.TrimSpace(resolution)
	if err := requireText("resolution", resolution); err != nil {
		return nil, err
	}

	d, err = s.transition(ctx, id, actor, models.AuditActionResolve, func(ctx context.Context, repos *repository.Repositories, d *models.Discrepancy) error {
		if err := statemachine.NewDiscrepancyFSM(d).Resolve(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		d.ResolvedAt = &now
		d.ResolvedBy = &actor.ID
		d.Resolution = &resolution
		return nil
	}, func(ctx context.Context, repos *repository.Repositories, d *models.Discrepancy) error {
		return s.clearAssetFlag(ctx, repos, actor, d)
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(discrepancyEvent(EventDiscrepancyResolved, d, actor))
	return d, nil
}

// Close is the administrative end of a resolved discrepancy
func (s *DiscrepancyService) Close(ctx context.Context, id uint, actor Actor) (d *models.Discrepancy, err error) {
	ctx, span := tracer.Start(ctx, "DiscrepancyService.Close")
	defer func() { endSpan(span, err) }()

	d, err = s.transition(ctx, id, actor, models.AuditActionClose, func(ctx context.Context, repos *repository.Repositories, d *models.Discrepancy) error {
		if err := statemachine.NewDiscrepancyFSM(d).Close(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		d.ClosedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(discrepancyEvent(EventDiscrepancyClosed, d, actor))
	return d, nil
}

type discrepancyStep func(ctx context.Context, repos *repository.Repositories, d *models.Discrepancy) error

// transition runs apply on the discrepancy under its asset's lock, saves and
// audits it, then runs any follow-up steps in the same transaction.
func (s *DiscrepancyService) transition(ctx context.Context, id uint, actor Actor, action string, apply discrepancyStep, after ...discrepancyStep) (*models.Discrepancy, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var d *models.Discrepancy
	err = s.tx.InAssetTx(ctx, current.AssetID, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		d, err = repos.Discrepancy.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError("discrepancy", id)
		}
		if err != nil {
			return err
		}

		before := d.AuditFields()
		if err := apply(ctx, repos, d); err != nil {
			return err
		}
		if err := repos.Discrepancy.Update(ctx, d); err != nil {
			return err
		}
		if err := s.audit.recordChange(ctx, repos, models.EntityDiscrepancy, d.ID, action, actor, before, d.AuditFields()); err != nil {
			return err
		}
		for _, step := range after {
			if err := step(ctx, repos, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "discrepancy transitioned",
		"discrepancy_id", d.ID, "asset_id", d.AssetID, "status", d.Status, "actor", actor.ID)
	return d, nil
}

// clearAssetFlag clears hasDiscrepancy once no active discrepancy remains
func (s *DiscrepancyService) clearAssetFlag(ctx context.Context, repos *repository.Repositories, actor Actor, d *models.Discrepancy) error {
	remaining, err := repos.Discrepancy.CountActiveByAsset(ctx, d.AssetID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	asset, err := repos.Asset.FindForUpdate(ctx, d.AssetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// soft-deleted asset; nothing left to flag
		return nil
	}
	if err != nil {
		return err
	}
	before := asset.AuditFields()
	asset.HasDiscrepancy = false
	return s.persistAssetFlag(ctx, repos, actor, asset, before)
}

// persistAssetFlag saves and audits the asset when its flag changed
func (s *DiscrepancyService) persistAssetFlag(ctx context.Context, repos *repository.Repositories, actor Actor, asset *models.Asset, before map[string]any) error {
	if before["has_discrepancy"] == asset.HasDiscrepancy {
		return nil
	}
	if err := repos.Asset.Update(ctx, asset); err != nil {
		return err
	}
	return s.audit.recordChange(ctx, repos, models.EntityAsset, asset.ID, models.AuditActionUpdate, actor, before, asset.AuditFields())
}

func (s *DiscrepancyService) FindByID(ctx context.Context, id uint) (*models.Discrepancy, error) {
	var d *models.Discrepancy
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		d, err = repos.Discrepancy.FindByID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError("discrepancy", id)
		}
		return err
	})
	return d, err
}

func (s *DiscrepancyService) List(ctx context.Context, query *repository.ListQuery) ([]models.Discrepancy, int64, error) {
	var (
		items []models.Discrepancy
		total int64
	)
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		items, total, err = repos.Discrepancy.List(ctx, query)
		return err
	})
	return items, total, err
}

func discrepancyEvent(eventType string, d *models.Discrepancy, actor Actor) Event {
	return Event{
		Type:       eventType,
		EntityType: models.EntityDiscrepancy,
		EntityID:   d.ID,
		AssetID:    d.AssetID,
		Actor:      actor.ID,
		Detail:     d.Description,
	}
}
