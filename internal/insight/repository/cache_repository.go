package repository

import (
	"context"
	"errors"
	"time"

	"crm-backend/internal/insight/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRepository stores conversation caches keyed by contact and thread key.
type CacheRepository interface {
	Find(ctx context.Context, contactID string, key domain.ThreadKey) (*domain.ConversationCache, error)
	Upsert(ctx context.Context, entry *domain.ConversationCache) error
}

type cacheRepository struct {
	db *gorm.DB
}

func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

func (r *cacheRepository) Find(ctx context.Context, contactID string, key domain.ThreadKey) (*domain.ConversationCache, error) {
	var entry domain.ConversationCache
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND thread_key = ?", contactID, key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *cacheRepository) Upsert(ctx context.Context, entry *domain.ConversationCache) error {
	now := time.Now()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contact_id"}, {Name: "thread_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "watermark", "model", "updated_at"}),
	}).Create(entry).Error
}
