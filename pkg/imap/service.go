package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// specialUseAll is the RFC 6154 attribute of the mailbox holding every message.
const specialUseAll = `\All`

// RawMessage is one fetched message with its full RFC 5322 source.
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// IMAPService dials the configured mailbox server.
type IMAPService struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

func NewService(host string, port int, username, password string, timeout time.Duration) *IMAPService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &IMAPService{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

// Connect opens a TLS session and authenticates with the owner credential.
func (s *IMAPService) Connect(ctx context.Context) (*Session, error) {
	if s.host == "" || s.username == "" {
		return nil, fmt.Errorf("imap is not configured")
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	dialer := &net.Dialer{Timeout: s.timeout, KeepAlive: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	c.Timeout = s.timeout

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login error: %w", err)
	}

	return &Session{c: c}, nil
}

// Session is an authenticated connection. Close must be called on every path.
type Session struct {
	c       *client.Client
	mailbox string
}

// LocateMailbox selects, read-only, the mailbox holding the complete history:
// the \All special-use mailbox when advertised, INBOX otherwise.
func (s *Session) LocateMailbox(_ context.Context) (string, error) {
	infos := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", infos)
	}()

	name := ""
	for info := range infos {
		if name != "" {
			continue
		}
		for _, attr := range info.Attributes {
			if strings.EqualFold(attr, specialUseAll) {
				name = info.Name
				break
			}
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("list mailboxes: %w", err)
	}
	if name == "" {
		name = "INBOX"
	}

	if _, err := s.c.Select(name, true); err != nil {
		return "", fmt.Errorf("examine %s: %w", name, err)
	}
	s.mailbox = name
	return name, nil
}

// SearchUIDsAfter returns the UIDs strictly greater than after, ascending.
// The "after+1:*" range always matches the newest message, so results are
// filtered again here.
func (s *Session) SearchUIDsAfter(_ context.Context, after uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	uidRange := new(imap.SeqSet)
	uidRange.AddRange(after+1, 0)
	criteria.Uid = uidRange

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > after {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FetchRaw streams the full source of each UID to fn in server order.
// When fn returns an error the remaining messages are drained and that error
// is returned.
func (s *Session) FetchRaw(_ context.Context, uids []uint32, fn func(RawMessage) error) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var handlerErr error
	for msg := range messages {
		if handlerErr != nil {
			continue
		}
		raw := RawMessage{UID: msg.Uid, InternalDate: msg.InternalDate}
		if body := msg.GetBody(section); body != nil {
			data, err := io.ReadAll(body)
			if err != nil {
				handlerErr = fmt.Errorf("read body of uid %d: %w", msg.Uid, err)
				continue
			}
			raw.Body = data
		}
		handlerErr = fn(raw)
	}

	fetchErr := <-done
	if handlerErr != nil {
		return handlerErr
	}
	if fetchErr != nil {
		return fmt.Errorf("uid fetch: %w", fetchErr)
	}
	return nil
}

func (s *Session) Close() error {
	return s.c.Logout()
}
