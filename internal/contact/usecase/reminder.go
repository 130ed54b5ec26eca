package usecase

import (
	"context"
	"fmt"
	"time"

	"crm-backend/internal/contact/repository"
	notifdomain "crm-backend/internal/notification/domain"
	"crm-backend/pkg/logger"
)

// Notifier records a CRM notification.
type Notifier interface {
	Create(ctx context.Context, n *notifdomain.Notification) error
}

// ReminderUsecase raises follow_up_due notifications for contacts whose next
// action has come due.
type ReminderUsecase interface {
	RemindDue(ctx context.Context, now time.Time) (int, error)
}

type reminderUsecase struct {
	repo     repository.ContactRepository
	notifier Notifier
}

func NewReminderUsecase(repo repository.ContactRepository, notifier Notifier) ReminderUsecase {
	return &reminderUsecase{repo: repo, notifier: notifier}
}

// RemindDue notifies once per scheduled next action and returns how many
// reminders were raised. A failing contact is logged and skipped.
func (u *reminderUsecase) RemindDue(ctx context.Context, now time.Time) (int, error) {
	log := logger.With("reminder")

	contacts, err := u.repo.ListDueFollowUps(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due follow-ups: %w", err)
	}

	sent := 0
	for i := range contacts {
		c := &contacts[i]
		body := "Follow-up is due"
		if c.NextActionNote != nil && *c.NextActionNote != "" {
			body = *c.NextActionNote
		}
		if c.NextActionDate != nil {
			body = fmt.Sprintf("%s (due %s)", body, c.NextActionDate.Format(time.DateOnly))
		}
		title := "Follow up with " + c.Name
		if c.Company != "" {
			title += " (" + c.Company + ")"
		}

		contactID := c.ID
		n := &notifdomain.Notification{
			Type:      notifdomain.TypeFollowUpDue,
			ContactID: &contactID,
			Title:     title,
			Body:      body,
		}
		if err := u.notifier.Create(ctx, n); err != nil {
			log.Warn().Err(err).Str("contact_id", c.ID).Msg("raise follow-up reminder")
			continue
		}
		if err := u.repo.MarkReminded(ctx, c.ID, now); err != nil {
			log.Warn().Err(err).Str("contact_id", c.ID).Msg("mark reminded")
			continue
		}
		sent++
	}

	if sent > 0 {
		log.Info().Int("count", sent).Msg("follow-up reminders raised")
	}
	return sent, nil
}
