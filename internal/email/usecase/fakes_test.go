package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	contactdomain "crm-backend/internal/contact/domain"
	"crm-backend/internal/email/domain"
	notifdomain "crm-backend/internal/notification/domain"
	"crm-backend/pkg/imap"

	"github.com/jackc/pgx/v5/pgconn"
)

func rawMail(from, to, subject string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: Thu, 01 Feb 2024 10:00:00 +0000\r\nMessage-ID: <%s@test>\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nHello there.\r\n",
		from, to, subject, strings.ReplaceAll(subject, " ", "-")))
}

type fakeMailbox struct {
	name       string
	messages   map[uint32][]byte
	connectErr error
	fetchErrAt uint32
	closed     int
	searches   int
}

func (m *fakeMailbox) Connect(context.Context) (MailSession, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return &fakeSession{box: m}, nil
}

type fakeSession struct {
	box *fakeMailbox
}

func (s *fakeSession) LocateMailbox(context.Context) (string, error) {
	if s.box.name == "" {
		return "INBOX", nil
	}
	return s.box.name, nil
}

func (s *fakeSession) SearchUIDsAfter(_ context.Context, after uint32) ([]uint32, error) {
	s.box.searches++
	var out []uint32
	for uid := range s.box.messages {
		if uid > after {
			out = append(out, uid)
		}
	}
	// reverse order so the engine's own sort is exercised
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}

func (s *fakeSession) FetchRaw(_ context.Context, uids []uint32, fn func(imap.RawMessage) error) error {
	for _, uid := range uids {
		if s.box.fetchErrAt != 0 && uid == s.box.fetchErrAt {
			return errors.New("connection reset by peer")
		}
		body, ok := s.box.messages[uid]
		if !ok {
			continue
		}
		raw := imap.RawMessage{UID: uid, InternalDate: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC), Body: body}
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.box.closed++
	return nil
}

type fakeLocker struct {
	err      error
	held     bool
	releases int
}

func (l *fakeLocker) TryLock(context.Context, string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.held = true
	return func() { l.held = false; l.releases++ }, nil
}

type memCursor struct {
	cursor domain.SyncCursor
}

func (c *memCursor) Load(context.Context) (*domain.SyncCursor, error) {
	cp := c.cursor
	return &cp, nil
}

func (c *memCursor) Advance(_ context.Context, uid int64, mailbox string) (bool, error) {
	if uid <= c.cursor.LastUID {
		return false, nil
	}
	c.cursor.LastUID = uid
	c.cursor.Mailbox = mailbox
	return true, nil
}

type memEmails struct {
	byUID     map[int64]*domain.Email
	failOnUID int64
	// rejectUID fails like Postgres does for an unstorable value.
	rejectUID int64
	// strictText rejects invalid UTF-8 and NUL bytes like a text column.
	strictText bool
	updates   []map[string]interface{}
	nextID    int
}

func newMemEmails() *memEmails {
	return &memEmails{byUID: map[int64]*domain.Email{}}
}

func (m *memEmails) FindByUID(_ context.Context, uid int64) (*domain.Email, error) {
	e, ok := m.byUID[uid]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memEmails) Create(_ context.Context, e *domain.Email) error {
	if e.UID != nil && *e.UID == m.failOnUID {
		return errors.New("database is down")
	}
	if e.UID != nil && *e.UID == m.rejectUID {
		return &pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\""}
	}
	if m.strictText {
		if err := storableText(e); err != nil {
			return err
		}
	}
	if e.UID != nil {
		if _, ok := m.byUID[*e.UID]; ok {
			return domain.ErrDuplicateEmail
		}
	}
	m.nextID++
	e.ID = fmt.Sprintf("e%d", m.nextID)
	e.CreatedAt = time.Now()
	if e.UID != nil {
		cp := *e
		m.byUID[*e.UID] = &cp
	}
	return nil
}

func storableText(e *domain.Email) error {
	fields := []string{e.MessageID, e.InReplyTo, e.References, e.FromAddress, e.FromName,
		e.ToAddress, e.CcAddress, e.Subject, e.TextBody, e.HTMLBody}
	for _, vs := range e.RawPayload.Headers {
		fields = append(fields, vs...)
	}
	for _, f := range fields {
		if !utf8.ValidString(f) || strings.ContainsRune(f, 0) {
			return &pgconn.PgError{Code: "22021", Message: "invalid byte sequence for encoding \"UTF8\""}
		}
	}
	return nil
}

func (m *memEmails) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	m.updates = append(m.updates, fields)
	for _, e := range m.byUID {
		if e.ID != id {
			continue
		}
		if v, ok := fields["contact_id"].(string); ok {
			e.ContactID = &v
		}
		if v, ok := fields["from_address"].(string); ok {
			e.FromAddress = v
		}
		if v, ok := fields["to_address"].(string); ok {
			e.ToAddress = v
		}
		if v, ok := fields["raw_payload"].(domain.RawPayload); ok {
			e.RawPayload = v
		}
	}
	return nil
}

func (m *memEmails) LatestActivity(context.Context, string, []string) (*time.Time, error) {
	return nil, nil
}

func (m *memEmails) Recent(context.Context, string, []string, int) ([]domain.Email, error) {
	return nil, nil
}

type mapResolver struct {
	contacts map[string]string
	calls    [][]string
}

func (r *mapResolver) Resolve(_ context.Context, candidates []string) (*string, error) {
	r.calls = append(r.calls, candidates)
	for _, c := range candidates {
		if id, ok := r.contacts[contactdomain.NormalizeAddress(c)]; ok {
			return &id, nil
		}
	}
	return nil, nil
}

type followUpCall struct {
	contactID string
	sentAt    time.Time
}

type recordingFollowUps struct {
	calls []followUpCall
}

func (f *recordingFollowUps) HandleOutbound(_ context.Context, contactID string, sentAt time.Time) (bool, error) {
	f.calls = append(f.calls, followUpCall{contactID, sentAt})
	return true, nil
}

type recordingNotifier struct {
	created []*notifdomain.Notification
}

func (r *recordingNotifier) Create(_ context.Context, n *notifdomain.Notification) error {
	r.created = append(r.created, n)
	return nil
}
