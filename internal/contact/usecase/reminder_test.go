package usecase

import (
	"context"
	"testing"

	"crm-backend/internal/contact/domain"
	notifdomain "crm-backend/internal/notification/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	created []*notifdomain.Notification
}

func (r *recordingNotifier) Create(_ context.Context, n *notifdomain.Notification) error {
	r.created = append(r.created, n)
	return nil
}

func TestRemindDueOncePerSchedule(t *testing.T) {
	due := contact("due", "a@x.com", 0)
	next := day(2024, 2, 11)
	note := "Follow up (10 days after last email)"
	due.NextActionDate = &next
	due.NextActionNote = &note

	closed := contact("closed", "b@x.com", 1)
	closed.Status = domain.StatusClosed
	closed.NextActionDate = &next

	later := contact("later", "c@x.com", 2)
	future := day(2024, 3, 1)
	later.NextActionDate = &future

	repo := newMemContacts(due, closed, later)
	notifier := &recordingNotifier{}
	uc := NewReminderUsecase(repo, notifier)

	now := day(2024, 2, 12)
	n, err := uc.RemindDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, notifier.created, 1)
	assert.Equal(t, notifdomain.TypeFollowUpDue, notifier.created[0].Type)
	assert.Equal(t, "due", *notifier.created[0].ContactID)
	assert.Contains(t, notifier.created[0].Body, "2024-02-11")

	n, err = uc.RemindDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
