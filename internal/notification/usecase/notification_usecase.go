package usecase

import (
	"context"
	"fmt"

	"crm-backend/internal/notification/domain"
	"crm-backend/internal/notification/repository"
	"crm-backend/pkg/fcm"
	"crm-backend/pkg/logger"
)

// Pusher delivers a push to device tokens and returns the rejected ones.
type Pusher interface {
	SendToDevices(ctx context.Context, tokens []string, push fcm.Push) ([]string, error)
}

// TokenStore lists and prunes registered device tokens.
type TokenStore interface {
	ListTokens(ctx context.Context) ([]string, error)
	DeleteToken(ctx context.Context, token string) error
}

// NotificationUsecase records CRM events and fans them out to devices.
type NotificationUsecase interface {
	Create(ctx context.Context, n *domain.Notification) error
	List(ctx context.Context, unreadOnly bool, limit, offset int) ([]domain.Notification, int64, error)
	MarkRead(ctx context.Context, id string) (bool, error)
	MarkAllRead(ctx context.Context) (int64, error)
}

type notificationUsecase struct {
	repo   repository.NotificationRepository
	tokens TokenStore
	pusher Pusher
}

// NewNotificationUsecase wires the store. tokens and pusher may be nil when
// push delivery is not configured.
func NewNotificationUsecase(repo repository.NotificationRepository, tokens TokenStore, pusher Pusher) NotificationUsecase {
	return &notificationUsecase{repo: repo, tokens: tokens, pusher: pusher}
}

// Create persists n and then pushes it. Push failures are logged only.
func (u *notificationUsecase) Create(ctx context.Context, n *domain.Notification) error {
	if err := u.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	u.push(ctx, n)
	return nil
}

func (u *notificationUsecase) push(ctx context.Context, n *domain.Notification) {
	if u.pusher == nil || u.tokens == nil {
		return
	}
	log := logger.With("notification")

	tokens, err := u.tokens.ListTokens(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list device tokens")
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := map[string]string{
		"type":            string(n.Type),
		"notification_id": n.ID,
	}
	link := "/notifications"
	if n.ContactID != nil {
		data["contact_id"] = *n.ContactID
		link = "/contacts/" + *n.ContactID
	}

	failed, err := u.pusher.SendToDevices(ctx, tokens, fcm.Push{
		Title: n.Title,
		Body:  n.Body,
		Link:  link,
		Data:  data,
	})
	if err != nil {
		log.Warn().Err(err).Str("notification_id", n.ID).Msg("push failed")
		return
	}
	for _, token := range failed {
		if err := u.tokens.DeleteToken(ctx, token); err != nil {
			log.Warn().Err(err).Msg("prune device token")
		}
	}
}

func (u *notificationUsecase) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]domain.Notification, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return u.repo.List(ctx, unreadOnly, limit, offset)
}

func (u *notificationUsecase) MarkRead(ctx context.Context, id string) (bool, error) {
	return u.repo.MarkRead(ctx, id)
}

func (u *notificationUsecase) MarkAllRead(ctx context.Context) (int64, error) {
	return u.repo.MarkAllRead(ctx)
}
