package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"crm-backend/internal/email/domain"
	"crm-backend/pkg/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailRepository defines data access for stored emails
type EmailRepository interface {
	FindByUID(ctx context.Context, uid int64) (*domain.Email, error)
	// Create inserts email and returns domain.ErrDuplicateEmail when its UID
	// is already stored.
	Create(ctx context.Context, email *domain.Email) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	// LatestActivity returns the newest coalesce(received_at, created_at)
	// among emails linked to the contact id or exchanged with its addresses.
	LatestActivity(ctx context.Context, contactID string, addresses []string) (*time.Time, error)
	// Recent returns up to limit emails for the contact, newest first.
	Recent(ctx context.Context, contactID string, addresses []string, limit int) ([]domain.Email, error)
}

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) FindByUID(ctx context.Context, uid int64) (*domain.Email, error) {
	var email domain.Email
	err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) Create(ctx context.Context, email *domain.Email) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	now := time.Now()
	email.CreatedAt = now
	email.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(email).Error
	if database.IsUniqueViolation(err) {
		return domain.ErrDuplicateEmail
	}
	return err
}

func (r *emailRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&domain.Email{}).Where("id = ?", id).Updates(fields).Error
}

func (r *emailRepository) LatestActivity(ctx context.Context, contactID string, addresses []string) (*time.Time, error) {
	var latest sql.NullTime
	row := r.db.WithContext(ctx).Model(&domain.Email{}).
		Select("MAX(COALESCE(received_at, created_at))").
		Where(r.contactScope(contactID, addresses)).
		Row()
	if err := row.Scan(&latest); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time
	return &t, nil
}

func (r *emailRepository) Recent(ctx context.Context, contactID string, addresses []string, limit int) ([]domain.Email, error) {
	var emails []domain.Email
	err := r.db.WithContext(ctx).
		Where(r.contactScope(contactID, addresses)).
		Order("COALESCE(received_at, created_at) DESC").
		Limit(limit).
		Find(&emails).Error
	return emails, err
}

// contactScope matches the contact id, a sender address, or a recipient
// address inside the flattened to/cc strings.
func (r *emailRepository) contactScope(contactID string, addresses []string) *gorm.DB {
	scope := r.db.Where("contact_id = ?", contactID)
	if len(addresses) == 0 {
		return scope
	}
	lowered := make([]string, 0, len(addresses))
	for _, a := range addresses {
		lowered = append(lowered, strings.ToLower(a))
	}
	scope = scope.Or("LOWER(from_address) IN ?", lowered)
	for _, a := range lowered {
		pattern := addressPattern(a)
		scope = scope.Or("to_address ~* ?", pattern).Or("cc_address ~* ?", pattern)
	}
	return scope
}

// addressPattern matches addr as a whole entry of a flattened recipient
// list such as "Ann <ann@x.com>, bob@y.com", so ann@x.com never matches
// joann@x.com.
func addressPattern(addr string) string {
	return `(^|[[:space:]<,;])` + regexp.QuoteMeta(addr) + `($|[[:space:]>,;])`
}
