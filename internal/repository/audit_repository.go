package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
	"gorm.io/gorm"
)

// AuditRepository defines the interface for audit ledger access. It has no
// update or delete: the ledger is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Last(ctx context.Context, entityType string, entityID uint) (*models.AuditEntry, error)
	Query(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error)
	Chain(ctx context.Context, entityType string, entityID uint) ([]models.AuditEntry, error)
	EntitiesTouchedSince(ctx context.Context, since time.Time) ([]EntityRef, error)
}

// AuditCursor is the position of the last entry a caller has seen
type AuditCursor struct {
	Timestamp time.Time
	ID        uint
}

// AuditFilter selects ledger entries, newest first
type AuditFilter struct {
	EntityType string
	EntityID   uint
	ActorID    string
	Before     *AuditCursor
	Limit      int
}

// EntityRef identifies one audited entity
type EntityRef struct {
	EntityType string
	EntityID   uint
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Last returns the newest entry of the entity's chain, or nil
func (r *auditRepository) Last(ctx context.Context, entityType string, entityID uint) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("sequence DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditRepository) Query(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry

	db := r.db.WithContext(ctx).Model(&models.AuditEntry{})
	if filter.EntityType != "" {
		db = db.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID > 0 {
		db = db.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ActorID != "" {
		db = db.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Before != nil {
		db = db.Where("recorded_at < ? OR (recorded_at = ? AND id < ?)",
			filter.Before.Timestamp, filter.Before.Timestamp, filter.Before.ID)
	}
	if filter.Limit > 0 {
		db = db.Limit(filter.Limit)
	}

	err := db.Order("recorded_at DESC, id DESC").Find(&entries).Error
	return entries, err
}

// Chain returns the entity's entries in sequence order
func (r *auditRepository) Chain(ctx context.Context, entityType string, entityID uint) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

func (r *auditRepository) EntitiesTouchedSince(ctx context.Context, since time.Time) ([]EntityRef, error) {
	var refs []EntityRef
	err := r.db.WithContext(ctx).
		Model(&models.AuditEntry{}).
		Select("DISTINCT entity_type, entity_id").
		Where("recorded_at >= ?", since).
		Order("entity_type, entity_id").
		Scan(&refs).Error
	return refs, err
}
