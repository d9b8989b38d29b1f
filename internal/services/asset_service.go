package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/sjperalta/custodia-api/pkg/logger"
	"gorm.io/gorm"
)

// AssetInput carries the fields of a new asset
type AssetInput struct {
	AssetTag     string             `json:"asset_tag" validate:"required,max=64"`
	Name         string             `json:"name" validate:"max=255"`
	Status       string             `json:"status" validate:"omitempty,oneof=available in_use in_maintenance reserved retired"`
	Condition    string             `json:"condition" validate:"max=50"`
	Location     models.LocationRef `json:"location"`
	Custodian    string             `json:"custodian" validate:"max=128"`
	PurchaseCost *decimal.Decimal   `json:"purchase_cost"`
}

// AssetUpdate is a direct edit; nil fields are left alone. Version, when
// given, must match the stored version.
type AssetUpdate struct {
	Name         *string             `json:"name" validate:"omitempty,max=255"`
	Status       *string             `json:"status" validate:"omitempty,oneof=available in_use in_maintenance reserved retired"`
	Condition    *string             `json:"condition" validate:"omitempty,max=50"`
	Location     *models.LocationRef `json:"location"`
	Custodian    *string             `json:"custodian" validate:"omitempty,max=128"`
	PurchaseCost *decimal.Decimal    `json:"purchase_cost"`
	Version      *uint               `json:"version"`
}

type AssetService struct {
	tx    *TxRunner
	audit *AuditService
}

func NewAssetService(tx *TxRunner, audit *AuditService) *AssetService {
	return &AssetService{tx: tx, audit: audit}
}

// Create registers a new asset and audits it
func (s *AssetService) Create(ctx context.Context, actor Actor, input AssetInput) (asset *models.Asset, err error) {
	ctx, span := tracer.Start(ctx, "AssetService.Create")
	defer func() { endSpan(span, err) }()

	input.AssetTag = strings.TrimSpace(input.AssetTag)
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	if input.PurchaseCost != nil && input.PurchaseCost.IsNegative() {
		return nil, ValidationError("purchase_cost", "must not be negative")
	}

	asset = &models.Asset{
		AssetTag:  input.AssetTag,
		Name:      strings.TrimSpace(input.Name),
		Status:    input.Status,
		Condition: input.Condition,
		Custodian: strings.TrimSpace(input.Custodian),
	}
	if asset.Status == "" {
		asset.Status = models.AssetStatusAvailable
	}
	asset.SetLocation(input.Location)
	if input.PurchaseCost != nil {
		asset.PurchaseCost = decimal.NewNullDecimal(*input.PurchaseCost)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		existing, err := repos.Asset.FindByTagIncludingDeleted(ctx, asset.AssetTag)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			if existing.IsDeleted() {
				return ValidationError("asset_tag", "belongs to a deleted asset")
			}
			return ValidationError("asset_tag", "is already in use")
		}
		if err := repos.Asset.Create(ctx, asset); err != nil {
			return err
		}
		return s.audit.recordChange(ctx, repos, models.EntityAsset, asset.ID, models.AuditActionCreate, actor, nil, asset.AuditFields())
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "asset created", "asset_id", asset.ID, "asset_tag", asset.AssetTag, "actor", actor.ID)
	return asset, nil
}

// Update applies a direct edit under the asset lock. Status, location and
// custodian cannot be edited while a movement is in flight.
func (s *AssetService) Update(ctx context.Context, id uint, actor Actor, input AssetUpdate) (asset *models.Asset, err error) {
	ctx, span := tracer.Start(ctx, "AssetService.Update")
	defer func() { endSpan(span, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	if input.PurchaseCost != nil && input.PurchaseCost.IsNegative() {
		return nil, ValidationError("purchase_cost", "must not be negative")
	}

	err = s.tx.InAssetTx(ctx, id, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		asset, err = lockAsset(ctx, repos, id)
		if err != nil {
			return err
		}
		if input.Version != nil && *input.Version != asset.Version {
			return ConflictError("asset version is stale, reload and retry", repository.ErrStaleRecord)
		}
		statusChange := input.Status != nil && *input.Status != asset.Status
		if input.Location != nil || input.Custodian != nil || statusChange {
			inFlight, err := repos.Movement.FindInFlightByAsset(ctx, id)
			if err != nil {
				return err
			}
			if inFlight != nil {
				return InvalidStateError("asset has an open movement; status, location and custodian change through it")
			}
		}

		before := asset.AuditFields()
		if input.Name != nil {
			asset.Name = strings.TrimSpace(*input.Name)
		}
		if input.Status != nil {
			asset.Status = *input.Status
		}
		if input.Condition != nil {
			asset.Condition = *input.Condition
		}
		if input.Location != nil {
			asset.SetLocation(*input.Location)
		}
		if input.Custodian != nil {
			asset.Custodian = strings.TrimSpace(*input.Custodian)
		}
		if input.PurchaseCost != nil {
			asset.PurchaseCost = decimal.NewNullDecimal(*input.PurchaseCost)
		}

		after := asset.AuditFields()
		if prev, _ := models.DiffFields(before, after); len(prev) == 0 {
			return nil
		}
		if err := repos.Asset.Update(ctx, asset); err != nil {
			return err
		}
		return s.audit.recordChange(ctx, repos, models.EntityAsset, asset.ID, models.AuditActionUpdate, actor, before, after)
	})
	if err != nil {
		return nil, err
	}

	logger.Log.InfoContext(ctx, "asset updated", "asset_id", asset.ID, "actor", actor.ID)
	return asset, nil
}

// Delete soft-deletes the asset. Its movements, discrepancies and audit
// history stay in place.
func (s *AssetService) Delete(ctx context.Context, id uint, actor Actor) (err error) {
	ctx, span := tracer.Start(ctx, "AssetService.Delete")
	defer func() { endSpan(span, err) }()

	if err := requireActor(actor); err != nil {
		return err
	}

	err = s.tx.InAssetTx(ctx, id, func(ctx context.Context, repos *repository.Repositories) error {
		asset, err := lockAsset(ctx, repos, id)
		if err != nil {
			return err
		}
		inFlight, err := repos.Movement.FindInFlightByAsset(ctx, id)
		if err != nil {
			return err
		}
		if inFlight != nil {
			return InvalidStateError("asset has an open movement and cannot be deleted")
		}

		before := asset.AuditFields()
		now := time.Now().UTC()
		asset.DeletedAt = &now
		if err := repos.Asset.Update(ctx, asset); err != nil {
			return err
		}
		return s.audit.recordChange(ctx, repos, models.EntityAsset, asset.ID, models.AuditActionDelete, actor, before, asset.AuditFields())
	})
	if err != nil {
		return err
	}

	logger.Log.InfoContext(ctx, "asset deleted", "asset_id", id, "actor", actor.ID)
	return nil
}

func (s *AssetService) FindByID(ctx context.Context, id uint) (*models.Asset, error) {
	var asset *models.Asset
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		asset, err = findAsset(ctx, repos, id)
		return err
	})
	return asset, err
}

func (s *AssetService) FindByTag(ctx context.Context, tag string) (*models.Asset, error) {
	var asset *models.Asset
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		asset, err = repos.Asset.FindByTag(ctx, strings.TrimSpace(tag))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFoundError("asset", tag)
		}
		return err
	})
	return asset, err
}

func (s *AssetService) List(ctx context.Context, query *repository.ListQuery) ([]models.Asset, int64, error) {
	var (
		assets []models.Asset
		total  int64
	)
	err := s.tx.Read(ctx, func(ctx context.Context, repos *repository.Repositories) error {
		var err error
		assets, total, err = repos.Asset.List(ctx, query)
		return err
	})
	return assets, total, err
}

// findAsset loads a live asset or returns NotFound
func findAsset(ctx context.Context, repos *repository.Repositories, id uint) (*models.Asset, error) {
	asset, err := repos.Asset.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("asset", id)
	}
	return asset, err
}

// lockAsset loads a live asset with a row lock where the dialect has one
func lockAsset(ctx context.Context, repos *repository.Repositories, id uint) (*models.Asset, error) {
	asset, err := repos.Asset.FindForUpdate(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("asset", id)
	}
	return asset, err
}
