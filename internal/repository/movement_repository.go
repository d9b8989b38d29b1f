package repository

import (
	"context"
	"errors"

	"github.com/sjperalta/custodia-api/internal/models"
	"gorm.io/gorm"
)

// MovementRepository defines the interface for movement data access
type MovementRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Movement, error)
	FindForUpdate(ctx context.Context, id uint) (*models.Movement, error)
	FindInFlightByAsset(ctx context.Context, assetID uint) (*models.Movement, error)
	Create(ctx context.Context, movement *models.Movement) error
	Update(ctx context.Context, movement *models.Movement) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, query *ListQuery) ([]models.Movement, int64, error)
}

type movementRepository struct {
	db *gorm.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *gorm.DB) MovementRepository {
	return &movementRepository{db: db}
}

func (r *movementRepository) FindByID(ctx context.Context, id uint) (*models.Movement, error) {
	var movement models.Movement
	err := r.db.WithContext(ctx).First(&movement, id).Error
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *movementRepository) FindForUpdate(ctx context.Context, id uint) (*models.Movement, error) {
	var movement models.Movement
	err := forUpdate(r.db.WithContext(ctx)).First(&movement, id).Error
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

// FindInFlightByAsset returns the requested or approved movement holding the
// asset, or nil when there is none.
func (r *movementRepository) FindInFlightByAsset(ctx context.Context, assetID uint) (*models.Movement, error) {
	var movement models.Movement
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND status IN ?", assetID, models.InFlightMovementStatuses).
		Order("id ASC").
		First(&movement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movement, nil
}

func (r *movementRepository) Create(ctx context.Context, movement *models.Movement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *movementRepository) Update(ctx context.Context, movement *models.Movement) error {
	return r.db.WithContext(ctx).Save(movement).Error
}

func (r *movementRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Movement{}, id).Error
}

func (r *movementRepository) List(ctx context.Context, query *ListQuery) ([]models.Movement, int64, error) {
	var movements []models.Movement
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Movement{})

	if val := query.Filters["asset_id"]; val != "" {
		db = db.Where("asset_id = ?", val)
	}
	if val := query.Filters["status"]; val != "" {
		db = db.Where("status = ?", val)
	}
	if val := query.Filters["type"]; val != "" {
		db = db.Where("type = ?", val)
	}
	if val := query.Filters["requested_by"]; val != "" {
		db = db.Where("requested_by = ?", val)
	}

	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := query.orderClause(map[string]bool{"request_date": true, "completion_date": true, "status": true}, "request_date DESC, id DESC")
	if query.PerPage > 0 {
		db = db.Offset(query.Offset()).Limit(query.PerPage)
	}

	err := db.Order(order).Find(&movements).Error
	return movements, total, err
}
