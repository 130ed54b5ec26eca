package usecase

import (
	"context"

	"crm-backend/pkg/imap"
)

// MailClient opens authenticated mailbox sessions.
type MailClient interface {
	Connect(ctx context.Context) (MailSession, error)
}

// MailSession is the subset of the mailbox protocol the sync run needs.
type MailSession interface {
	LocateMailbox(ctx context.Context) (string, error)
	SearchUIDsAfter(ctx context.Context, after uint32) ([]uint32, error)
	FetchRaw(ctx context.Context, uids []uint32, fn func(imap.RawMessage) error) error
	Close() error
}

type imapMailClient struct {
	svc *imap.IMAPService
}

// NewIMAPMailClient adapts the IMAP service to MailClient.
func NewIMAPMailClient(svc *imap.IMAPService) MailClient {
	return &imapMailClient{svc: svc}
}

func (c *imapMailClient) Connect(ctx context.Context) (MailSession, error) {
	session, err := c.svc.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}
