package repository

import (
	"context"
	"strings"

	"github.com/sjperalta/custodia-api/internal/models"
	"gorm.io/gorm"
)

// AssetRepository defines the interface for asset data access.
// Every read path excludes soft-deleted assets unless its name says otherwise.
type AssetRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Asset, error)
	FindByTag(ctx context.Context, tag string) (*models.Asset, error)
	FindByTagIncludingDeleted(ctx context.Context, tag string) (*models.Asset, error)
	FindForUpdate(ctx context.Context, id uint) (*models.Asset, error)
	Create(ctx context.Context, asset *models.Asset) error
	Update(ctx context.Context, asset *models.Asset) error
	List(ctx context.Context, query *ListQuery) ([]models.Asset, int64, error)
}

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) active(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Where("assets.deleted_at IS NULL")
}

func (r *assetRepository) FindByID(ctx context.Context, id uint) (*models.Asset, error) {
	var asset models.Asset
	err := r.active(ctx).First(&asset, id).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) FindByTag(ctx context.Context, tag string) (*models.Asset, error) {
	var asset models.Asset
	err := r.active(ctx).Where("asset_tag = ?", tag).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindByTagIncludingDeleted also sees soft-deleted assets, whose tags stay
// reserved.
func (r *assetRepository) FindByTagIncludingDeleted(ctx context.Context, tag string) (*models.Asset, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).Where("asset_tag = ?", tag).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindForUpdate loads the asset holding its row lock until the surrounding
// transaction ends.
func (r *assetRepository) FindForUpdate(ctx context.Context, id uint) (*models.Asset, error) {
	var asset models.Asset
	err := forUpdate(r.active(ctx)).First(&asset, id).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) Create(ctx context.Context, asset *models.Asset) error {
	if asset.Version == 0 {
		asset.Version = 1
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

// Update writes every column guarded by the asset's version. A concurrent
// writer that got there first makes this return ErrStaleRecord.
func (r *assetRepository) Update(ctx context.Context, asset *models.Asset) error {
	current := asset.Version
	asset.Version = current + 1

	res := r.db.WithContext(ctx).
		Model(asset).
		Where("version = ?", current).
		Select("*").
		Omit("id", "created_at").
		Updates(asset)
	if res.Error != nil {
		asset.Version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		asset.Version = current
		return ErrStaleRecord
	}
	return nil
}

func (r *assetRepository) List(ctx context.Context, query *ListQuery) ([]models.Asset, int64, error) {
	var assets []models.Asset
	var total int64

	db := r.active(ctx).Model(&models.Asset{})

	if query.Search != "" {
		search := "%" + strings.ToLower(query.Search) + "%"
		db = db.Where("LOWER(asset_tag) LIKE ? OR LOWER(name) LIKE ?", search, search)
	}
	if val := query.Filters["status"]; val != "" {
		db = db.Where("status = ?", val)
	}
	if val := query.Filters["custodian"]; val != "" {
		db = db.Where("custodian = ?", val)
	}
	if val := query.Filters["has_discrepancy"]; val != "" {
		db = db.Where("has_discrepancy = ?", val == "true")
	}

	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := query.orderClause(map[string]bool{"asset_tag": true, "name": true, "created_at": true, "updated_at": true}, "id ASC")
	if query.PerPage > 0 {
		db = db.Offset(query.Offset()).Limit(query.PerPage)
	}

	err := db.Order(order).Find(&assets).Error
	return assets, total, err
}
