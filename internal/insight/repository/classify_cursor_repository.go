package repository

import (
	"context"
	"time"

	"crm-backend/internal/insight/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClassifyCursorRepository persists the classification batch offset.
type ClassifyCursorRepository interface {
	Load(ctx context.Context) (*domain.ClassifyCursor, error)
	// CompareAndSet writes next only if the stored offset still equals prev.
	CompareAndSet(ctx context.Context, prev, next int) (bool, error)
}

type classifyCursorRepository struct {
	db *gorm.DB
}

func NewClassifyCursorRepository(db *gorm.DB) ClassifyCursorRepository {
	return &classifyCursorRepository{db: db}
}

func (r *classifyCursorRepository) Load(ctx context.Context) (*domain.ClassifyCursor, error) {
	seed := domain.ClassifyCursor{ID: domain.ClassifyCursorID, UpdatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var cursor domain.ClassifyCursor
	if err := r.db.WithContext(ctx).Where("id = ?", domain.ClassifyCursorID).First(&cursor).Error; err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *classifyCursorRepository) CompareAndSet(ctx context.Context, prev, next int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.ClassifyCursor{}).
		Where(`id = ? AND "offset" = ?`, domain.ClassifyCursorID, prev).
		Updates(map[string]interface{}{
			"offset":     next,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}
