package repository

import (
	"context"
	"time"

	"crm-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncCursorRepository persists the mailbox sync cursor.
type SyncCursorRepository interface {
	// Load returns the cursor row, creating it at zero when missing.
	Load(ctx context.Context) (*domain.SyncCursor, error)
	// Advance moves the cursor to uid only if that is forward. It reports
	// whether the row changed.
	Advance(ctx context.Context, uid int64, mailbox string) (bool, error)
}

type syncCursorRepository struct {
	db *gorm.DB
	id string
}

func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{db: db, id: domain.ImapCursorID}
}

func (r *syncCursorRepository) Load(ctx context.Context) (*domain.SyncCursor, error) {
	seed := domain.SyncCursor{ID: r.id, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return nil, err
	}

	var cursor domain.SyncCursor
	if err := r.db.WithContext(ctx).Where("id = ?", r.id).First(&cursor).Error; err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *syncCursorRepository) Advance(ctx context.Context, uid int64, mailbox string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.SyncCursor{}).
		Where("id = ? AND last_uid < ?", r.id, uid).
		Updates(map[string]interface{}{
			"last_uid":   uid,
			"mailbox":    mailbox,
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}
