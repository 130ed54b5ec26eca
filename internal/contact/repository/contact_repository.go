package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"crm-backend/internal/contact/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactRepository defines data access for contacts
type ContactRepository interface {
	Create(ctx context.Context, contact *domain.Contact) error
	FindByID(ctx context.Context, id string) (*domain.Contact, error)
	// FindByAddressFragments returns contacts whose email field contains any
	// fragment, case-insensitively, oldest first.
	FindByAddressFragments(ctx context.Context, fragments []string) ([]domain.Contact, error)
	// ListPage returns contacts ordered by creation time.
	ListPage(ctx context.Context, offset, limit int) ([]domain.Contact, error)
	// ListDueFollowUps returns active contacts whose next action is due and
	// who have not been reminded since it was scheduled.
	ListDueFollowUps(ctx context.Context, now time.Time) ([]domain.Contact, error)
	Update(ctx context.Context, contact *domain.Contact) error
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

type contactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db}
}

func (r *contactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.Status == "" {
		contact.Status = domain.StatusToContact
	}
	return r.db.WithContext(ctx).Create(contact).Error
}

func (r *contactRepository) FindByID(ctx context.Context, id string) (*domain.Contact, error) {
	var contact domain.Contact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contact, nil
}

func (r *contactRepository) FindByAddressFragments(ctx context.Context, fragments []string) ([]domain.Contact, error) {
	var cond *gorm.DB
	for _, f := range fragments {
		if f == "" {
			continue
		}
		pattern := "%" + escapeLike(f) + "%"
		if cond == nil {
			cond = r.db.Where("email ILIKE ?", pattern)
		} else {
			cond = cond.Or("email ILIKE ?", pattern)
		}
	}
	if cond == nil {
		return nil, nil
	}

	var contacts []domain.Contact
	err := r.db.WithContext(ctx).
		Where("email IS NOT NULL").
		Where(cond).
		Order("created_at ASC, id ASC").
		Find(&contacts).Error
	return contacts, err
}

func (r *contactRepository) ListPage(ctx context.Context, offset, limit int) ([]domain.Contact, error) {
	var contacts []domain.Contact
	err := r.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&contacts).Error
	return contacts, err
}

func (r *contactRepository) ListDueFollowUps(ctx context.Context, now time.Time) ([]domain.Contact, error) {
	var contacts []domain.Contact
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []domain.Status{domain.StatusClosed, domain.StatusNotInterested}).
		Where("next_action_date IS NOT NULL AND next_action_date <= ?", now).
		Where("follow_up_reminded_at IS NULL OR follow_up_reminded_at < next_action_date").
		Order("next_action_date ASC").
		Find(&contacts).Error
	return contacts, err
}

func (r *contactRepository) Update(ctx context.Context, contact *domain.Contact) error {
	contact.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(contact).Error
}

func (r *contactRepository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Contact{}).
		Where("id = ?", id).
		Update("follow_up_reminded_at", at).Error
}

// escapeLike escapes the LIKE wildcards of a literal fragment.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
