package usecase

import (
	"context"
	"testing"
	"time"

	"crm-backend/internal/contact/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestHandleOutboundSchedulesFollowUp(t *testing.T) {
	c := contact("c1", "dir@x.com", 0)
	c.Status = domain.StatusInterested
	repo := newMemContacts(c)
	h := NewFollowUpHandler(repo, 10)

	changed, err := h.HandleOutbound(context.Background(), "c1", time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, changed)

	got := repo.byID["c1"]
	assert.Equal(t, day(2024, 2, 1), *got.LastActionDate)
	assert.Equal(t, "Email sent", *got.LastActionNote)
	assert.Equal(t, day(2024, 2, 11), *got.NextActionDate)
	assert.Equal(t, "Follow up (10 days after last email)", *got.NextActionNote)
	assert.Equal(t, domain.StatusInterested, got.Status)
}

func TestHandleOutboundSkipsInactive(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusClosed, domain.StatusNotInterested} {
		c := contact("c1", "dir@x.com", 0)
		c.Status = status
		repo := newMemContacts(c)
		h := NewFollowUpHandler(repo, 10)

		changed, err := h.HandleOutbound(context.Background(), "c1", day(2024, 2, 1))
		require.NoError(t, err)
		assert.False(t, changed, status)
		assert.Nil(t, repo.byID["c1"].NextActionDate, status)
		assert.Zero(t, repo.updates)
	}
}

func TestHandleOutboundKeepsNewerManualUpdate(t *testing.T) {
	c := contact("c1", "dir@x.com", 0)
	last := day(2024, 2, 1)
	c.LastActionDate = &last
	repo := newMemContacts(c)
	h := NewFollowUpHandler(repo, 10)

	// same calendar day, later hour
	changed, err := h.HandleOutbound(context.Background(), "c1", time.Date(2024, 2, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = h.HandleOutbound(context.Background(), "c1", day(2024, 1, 20))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, repo.updates)
}

func TestHandleOutboundResetsReminder(t *testing.T) {
	c := contact("c1", "dir@x.com", 0)
	reminded := day(2024, 1, 5)
	c.FollowUpRemindedAt = &reminded
	repo := newMemContacts(c)

	changed, err := NewFollowUpHandler(repo, 3).HandleOutbound(context.Background(), "c1", day(2024, 2, 1))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, repo.byID["c1"].FollowUpRemindedAt)
	assert.Equal(t, day(2024, 2, 4), *repo.byID["c1"].NextActionDate)
}

func TestHandleOutboundUnknownContact(t *testing.T) {
	changed, err := NewFollowUpHandler(newMemContacts(), 10).HandleOutbound(context.Background(), "missing", day(2024, 2, 1))
	require.NoError(t, err)
	assert.False(t, changed)
}
