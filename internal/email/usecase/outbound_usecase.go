package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	contactusecase "crm-backend/internal/contact/usecase"
	"crm-backend/internal/email/domain"
	"crm-backend/internal/email/dto"
	"crm-backend/internal/email/repository"
	notifdomain "crm-backend/internal/notification/domain"
	"crm-backend/pkg/logger"
	"crm-backend/pkg/mailparse"
)

// OutboundUsecase records mail sent by the owner through the send path.
type OutboundUsecase interface {
	RecordOutbound(ctx context.Context, req dto.RecordOutboundRequest) (*dto.RecordOutboundResponse, error)
}

type outboundUsecase struct {
	emails    repository.EmailRepository
	resolver  contactusecase.ContactResolver
	followUps contactusecase.FollowUpHandler
	notifier  contactusecase.Notifier
	owner     []string
	now       func() time.Time
}

func NewOutboundUsecase(
	emails repository.EmailRepository,
	resolver contactusecase.ContactResolver,
	followUps contactusecase.FollowUpHandler,
	notifier contactusecase.Notifier,
	ownerAddresses []string,
) OutboundUsecase {
	return &outboundUsecase{
		emails:    emails,
		resolver:  resolver,
		followUps: followUps,
		notifier:  notifier,
		owner:     ownerAddresses,
		now:       time.Now,
	}
}

func (u *outboundUsecase) RecordOutbound(ctx context.Context, req dto.RecordOutboundRequest) (*dto.RecordOutboundResponse, error) {
	log := logger.With("outbound")

	sentAt := u.now()
	if req.SentAt != nil && !req.SentAt.IsZero() {
		sentAt = *req.SentAt
	}

	contactID := req.ContactID
	if contactID == nil {
		var candidates []string
		for _, a := range append(append([]string{}, req.To...), req.Cc...) {
			if addr := firstAddress(a).Address; addr != "" && !u.isOwner(addr) {
				candidates = append(candidates, addr)
			}
		}
		resolved, err := u.resolver.Resolve(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("resolve contact: %w", err)
		}
		contactID = resolved
	}

	from := req.From
	if from == "" && len(u.owner) > 0 {
		from = u.owner[0]
	}
	fromAddr := firstAddress(from)

	email := &domain.Email{
		ContactID:   contactID,
		Direction:   domain.DirectionOutbound,
		MessageID:   req.MessageID,
		InReplyTo:   req.InReplyTo,
		References:  strings.Join(req.References, " "),
		FromAddress: fromAddr.Address,
		FromName:    fromAddr.Name,
		ToAddress:   strings.Join(req.To, ", "),
		CcAddress:   strings.Join(req.Cc, ", "),
		Subject:     req.Subject,
		TextBody:    req.TextBody,
		HTMLBody:    req.HTMLBody,
		ReceivedAt:  &sentAt,
		RawPayload:  domain.RawPayload{Attachments: []domain.AttachmentMeta{}},
	}
	if err := u.emails.Create(ctx, email); err != nil {
		return nil, fmt.Errorf("insert outbound email: %w", err)
	}

	resp := &dto.RecordOutboundResponse{EmailID: email.ID, ContactID: contactID}

	emailID := email.ID
	title := "Email sent"
	if len(req.To) > 0 {
		title = "Email sent to " + req.To[0]
	}
	body := req.Subject
	if body == "" {
		body = mailparse.Clip(strings.Join(strings.Fields(req.TextBody), " "), 140)
	}
	err := u.notifier.Create(ctx, &notifdomain.Notification{
		Type:      notifdomain.TypeEmailSent,
		ContactID: contactID,
		EmailID:   &emailID,
		Title:     title,
		Body:      body,
	})
	if err != nil {
		log.Warn().Err(err).Str("email_id", email.ID).Msg("sent notification")
	} else {
		resp.NotificationSent = true
	}

	if contactID != nil {
		changed, err := u.followUps.HandleOutbound(ctx, *contactID, sentAt)
		if err != nil {
			return resp, fmt.Errorf("follow-up: %w", err)
		}
		resp.FollowUpUpdated = changed
	}
	return resp, nil
}

func (u *outboundUsecase) isOwner(addr string) bool {
	a := strings.ToLower(firstAddress(addr).Address)
	for _, o := range u.owner {
		if a == o {
			return true
		}
	}
	return false
}

// firstAddress parses "Name <addr>" forms leniently.
func firstAddress(s string) mailparse.Address {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		name := strings.Trim(strings.TrimSpace(s[:i]), `"`)
		addr := strings.TrimSuffix(strings.TrimSpace(s[i+1:]), ">")
		return mailparse.Address{Name: name, Address: strings.ToLower(strings.TrimSpace(addr))}
	}
	return mailparse.Address{Address: strings.ToLower(s)}
}
