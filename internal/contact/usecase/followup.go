package usecase

import (
	"context"
	"fmt"
	"time"

	"crm-backend/internal/contact/repository"
	"crm-backend/pkg/logger"
)

const sentNote = "Email sent"

// FollowUpHandler reschedules a contact after the owner emails them.
type FollowUpHandler interface {
	// HandleOutbound reports whether the contact was updated.
	HandleOutbound(ctx context.Context, contactID string, sentAt time.Time) (bool, error)
}

type followUpHandler struct {
	repo repository.ContactRepository
	days int
}

func NewFollowUpHandler(repo repository.ContactRepository, days int) FollowUpHandler {
	if days <= 0 {
		days = 10
	}
	return &followUpHandler{repo: repo, days: days}
}

func (h *followUpHandler) HandleOutbound(ctx context.Context, contactID string, sentAt time.Time) (bool, error) {
	contact, err := h.repo.FindByID(ctx, contactID)
	if err != nil {
		return false, fmt.Errorf("load contact %s: %w", contactID, err)
	}
	if contact == nil {
		return false, nil
	}
	if !contact.Status.Active() {
		return false, nil
	}

	day := dateOf(sentAt)
	if contact.LastActionDate != nil && !dateOf(*contact.LastActionDate).Before(day) {
		return false, nil
	}

	next := day.AddDate(0, 0, h.days)
	lastNote := sentNote
	nextNote := fmt.Sprintf("Follow up (%d days after last email)", h.days)

	contact.LastActionDate = &day
	contact.LastActionNote = &lastNote
	contact.NextActionDate = &next
	contact.NextActionNote = &nextNote
	contact.FollowUpRemindedAt = nil

	if err := h.repo.Update(ctx, contact); err != nil {
		return false, fmt.Errorf("update contact %s: %w", contactID, err)
	}

	logger.With("followup").Info().
		Str("contact_id", contactID).
		Str("last_action", day.Format(time.DateOnly)).
		Str("next_action", next.Format(time.DateOnly)).
		Msg("follow-up scheduled")
	return true, nil
}

// dateOf truncates t to its calendar date in UTC.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
