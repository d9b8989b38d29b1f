package repository

import (
	"context"
	"errors"

	"github.com/sjperalta/custodia-api/internal/models"
	"gorm.io/gorm"
)

// DiscrepancyRepository defines the interface for discrepancy data access.
// There is no Delete: discrepancies are historical records.
type DiscrepancyRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Discrepancy, error)
	FindActiveByAssetAndType(ctx context.Context, assetID uint, discrepancyType string) (*models.Discrepancy, error)
	CountActiveByAsset(ctx context.Context, assetID uint) (int64, error)
	Create(ctx context.Context, discrepancy *models.Discrepancy) error
	Update(ctx context.Context, discrepancy *models.Discrepancy) error
	List(ctx context.Context, query *ListQuery) ([]models.Discrepancy, int64, error)
}

type discrepancyRepository struct {
	db *gorm.DB
}

// NewDiscrepancyRepository creates a new discrepancy repository
func NewDiscrepancyRepository(db *gorm.DB) DiscrepancyRepository {
	return &discrepancyRepository{db: db}
}

func (r *discrepancyRepository) FindByID(ctx context.Context, id uint) (*models.Discrepancy, error) {
	var discrepancy models.Discrepancy
	err := r.db.WithContext(ctx).First(&discrepancy, id).Error
	if err != nil {
		return nil, err
	}
	return &discrepancy, nil
}

// FindActiveByAssetAndType returns an open or in-progress discrepancy of the
// given type on the asset, or nil.
func (r *discrepancyRepository) FindActiveByAssetAndType(ctx context.Context, assetID uint, discrepancyType string) (*models.Discrepancy, error) {
	var discrepancy models.Discrepancy
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND type = ? AND status IN ?", assetID, discrepancyType, models.ActiveDiscrepancyStatuses).
		Order("id ASC").
		First(&discrepancy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &discrepancy, nil
}

func (r *discrepancyRepository) CountActiveByAsset(ctx context.Context, assetID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Discrepancy{}).
		Where("asset_id = ? AND status IN ?", assetID, models.ActiveDiscrepancyStatuses).
		Count(&count).Error
	return count, err
}

func (r *discrepancyRepository) Create(ctx context.Context, discrepancy *models.Discrepancy) error {
	return r.db.WithContext(ctx).Create(discrepancy).Error
}

func (r *discrepancyRepository) Update(ctx context.Context, discrepancy *models.Discrepancy) error {
	return r.db.WithContext(ctx).Save(discrepancy).Error
}

func (r *discrepancyRepository) List(ctx context.Context, query *ListQuery) ([]models.Discrepancy, int64, error) {
	var discrepancies []models.Discrepancy
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Discrepancy{})

	if val := query.Filters["asset_id"]; val != "" {
		db = db.Where("asset_id = ?", val)
	}
	if val := query.Filters["movement_id"]; val != "" {
		db = db.Where("movement_id = ?", val)
	}
	if val := query.Filters["status"]; val != "" {
		db = db.Where("status = ?", val)
	}
	if val := query.Filters["priority"]; val != "" {
		db = db.Where("priority = ?", val)
	}
	if val := query.Filters["type"]; val != "" {
		db = db.Where("type = ?", val)
	}

	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := query.orderClause(map[string]bool{"detected_at": true, "priority": true, "status": true}, "detected_at DESC, id DESC")
	if query.PerPage > 0 {
		db = db.Offset(query.Offset()).Limit(query.PerPage)
	}

	err := db.Order(order).Find(&discrepancies).Error
	return discrepancies, total, err
}
