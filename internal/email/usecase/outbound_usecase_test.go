package usecase

import (
	"context"
	"testing"
	"time"

	"crm-backend/internal/email/domain"
	"crm-backend/internal/email/dto"
	notifdomain "crm-backend/internal/notification/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceEmails struct {
	memEmails
	created []*domain.Email
}

func (s *sliceEmails) Create(ctx context.Context, e *domain.Email) error {
	if err := s.memEmails.Create(ctx, e); err != nil {
		return err
	}
	s.created = append(s.created, e)
	return nil
}

func TestRecordOutboundResolvesAndSchedules(t *testing.T) {
	emails := &sliceEmails{memEmails: *newMemEmails()}
	resolver := &mapResolver{contacts: map[string]string{"director@studio.com": "c1"}}
	followUps := &recordingFollowUps{}
	notifier := &recordingNotifier{}
	uc := NewOutboundUsecase(emails, resolver, followUps, notifier, []string{"me@crm.dev"})

	sent := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	resp, err := uc.RecordOutbound(context.Background(), dto.RecordOutboundRequest{
		To:      []string{"Director <director@studio.com>"},
		Cc:      []string{"me@crm.dev"},
		Subject: "Treatment attached",
		SentAt:  &sent,
	})
	require.NoError(t, err)

	require.Len(t, emails.created, 1)
	e := emails.created[0]
	assert.Nil(t, e.UID)
	assert.Equal(t, domain.DirectionOutbound, e.Direction)
	assert.Equal(t, "me@crm.dev", e.FromAddress)

	assert.Equal(t, []string{"director@studio.com"}, resolver.calls[0])
	require.NotNil(t, resp.ContactID)
	assert.Equal(t, "c1", *resp.ContactID)
	assert.True(t, resp.FollowUpUpdated)
	assert.True(t, resp.NotificationSent)

	require.Len(t, followUps.calls, 1)
	assert.Equal(t, sent, followUps.calls[0].sentAt)
	require.Len(t, notifier.created, 1)
	assert.Equal(t, notifdomain.TypeEmailSent, notifier.created[0].Type)
}

func TestRecordOutboundUnknownRecipient(t *testing.T) {
	followUps := &recordingFollowUps{}
	uc := NewOutboundUsecase(&sliceEmails{memEmails: *newMemEmails()}, &mapResolver{}, followUps, &recordingNotifier{}, []string{"me@crm.dev"})

	resp, err := uc.RecordOutbound(context.Background(), dto.RecordOutboundRequest{To: []string{"stranger@x.com"}})
	require.NoError(t, err)
	assert.Nil(t, resp.ContactID)
	assert.False(t, resp.FollowUpUpdated)
	assert.Empty(t, followUps.calls)
}
