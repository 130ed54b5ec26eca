package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"crm-backend/internal/email/usecase"
	"crm-backend/pkg/logger"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// MailboxNotification is the payload a Gmail watch publishes on each change.
type MailboxNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// PushListener runs a sync pass whenever the mailbox provider publishes a
// change notification.
type PushListener struct {
	client      *pubsub.Client
	subName     string
	owner       string
	syncUsecase usecase.SyncUsecase

	running       atomic.Bool
	mu            sync.Mutex
	lastHistoryID uint64
}

func NewPushListener(ctx context.Context, projectID, subscription, credentialsFile, ownerEmail string, syncUsecase usecase.SyncUsecase) (*PushListener, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &PushListener{
		client:      client,
		subName:     subscription,
		owner:       strings.ToLower(ownerEmail),
		syncUsecase: syncUsecase,
	}, nil
}

// Start blocks receiving messages until ctx is cancelled.
func (l *PushListener) Start(ctx context.Context) {
	log := logger.With("pubsub")

	sub := l.client.Subscription(l.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Error().Err(err).Str("subscription", l.subName).Msg("check subscription")
		return
	}
	if !exists {
		log.Error().Str("subscription", l.subName).Msg("subscription does not exist, push sync disabled")
		return
	}

	log.Info().Str("subscription", l.subName).Msg("listening for mailbox notifications")
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		l.handleMessage(ctx, msg.Data)
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("receive")
	}
}

func (l *PushListener) Close() error {
	return l.client.Close()
}

func (l *PushListener) handleMessage(ctx context.Context, data []byte) {
	log := logger.With("pubsub")

	var n MailboxNotification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Msg("unmarshal notification")
		return
	}
	if !l.accept(n) {
		log.Debug().Str("email", n.EmailAddress).Uint64("history_id", n.HistoryID).Msg("skipping notification")
		return
	}

	// A run already in progress will pick the new messages up through the cursor.
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	defer l.running.Store(false)

	res, err := l.syncUsecase.Run(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("push-triggered sync failed")
		return
	}
	log.Info().Int("inserted", res.Inserted).Int64("cursor", res.CursorAfter).Msg("push-triggered sync")
}

// accept filters notifications for other mailboxes and stale history ids.
func (l *PushListener) accept(n MailboxNotification) bool {
	if l.owner != "" && !strings.EqualFold(n.EmailAddress, l.owner) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.HistoryID != 0 && n.HistoryID <= l.lastHistoryID {
		return false
	}
	if n.HistoryID > l.lastHistoryID {
		l.lastHistoryID = n.HistoryID
	}
	return true
}
