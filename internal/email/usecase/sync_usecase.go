package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	contactusecase "crm-backend/internal/contact/usecase"
	"crm-backend/internal/email/domain"
	"crm-backend/internal/email/repository"
	notifdomain "crm-backend/internal/notification/domain"
	"crm-backend/pkg/database"
	"crm-backend/pkg/imap"
	"crm-backend/pkg/logger"
	"crm-backend/pkg/mailparse"
)

// ErrMailboxLocked is returned when another sync run holds the mailbox.
var ErrMailboxLocked = errors.New("mailbox is locked by another sync run")

// Phase names the step a sync run was in.
type Phase string

const (
	PhaseConnecting      Phase = "connecting"
	PhaseLocatingMailbox Phase = "locating-mailbox"
	PhaseLocking         Phase = "locking"
	PhaseLoadingCursor   Phase = "loading-cursor"
	PhaseSearching       Phase = "searching"
	PhaseFetching        Phase = "fetching"
	PhaseProcessing      Phase = "processing"
	PhaseAdvancingCursor Phase = "advancing-cursor"
	PhaseDone            Phase = "done"
)

// SyncError attributes a failed run to a phase and, when known, a UID.
type SyncError struct {
	Phase Phase
	UID   uint32
	Err   error
}

func (e *SyncError) Error() string {
	if e.UID != 0 {
		return fmt.Sprintf("sync %s (uid %d): %v", e.Phase, e.UID, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SyncResult summarizes one run. It is returned alongside a SyncError so
// partial progress stays visible.
type SyncResult struct {
	Mailbox       string `json:"mailbox"`
	CursorBefore  int64  `json:"cursor_before"`
	CursorAfter   int64  `json:"cursor_after"`
	Found         int    `json:"found"`
	Fetched       int    `json:"fetched"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	Duplicates    int    `json:"duplicates"`
	Notifications int    `json:"notifications"`
	FollowUps     int    `json:"follow_ups"`
	// Skipped lists messages the datastore rejected as unstorable. The
	// cursor moves past them.
	Skipped []SkippedMessage `json:"skipped,omitempty"`
}

// SkippedMessage is a message left out of the CRM.
type SkippedMessage struct {
	UID   uint32 `json:"uid"`
	Phase Phase  `json:"phase"`
	Error string `json:"error"`
}

// Locker hands out named exclusive locks.
type Locker interface {
	TryLock(ctx context.Context, name string) (func(), error)
}

// SyncUsecase pulls new mailbox messages into the CRM.
type SyncUsecase interface {
	Run(ctx context.Context) (*SyncResult, error)
}

// SyncConfig holds the knobs of a sync run.
type SyncConfig struct {
	BatchLimit int
	// OwnerAddresses are the mailbox owner's lower-cased addresses.
	OwnerAddresses []string
}

type syncUsecase struct {
	mail         MailClient
	locker       Locker
	cursors      repository.SyncCursorRepository
	emails       repository.EmailRepository
	resolver     contactusecase.ContactResolver
	followUps    contactusecase.FollowUpHandler
	notifier     contactusecase.Notifier
	materializer AttachmentMaterializer
	batchLimit   int
	owner        map[string]bool
	now          func() time.Time
}

func NewSyncUsecase(
	mail MailClient,
	locker Locker,
	cursors repository.SyncCursorRepository,
	emails repository.EmailRepository,
	resolver contactusecase.ContactResolver,
	followUps contactusecase.FollowUpHandler,
	notifier contactusecase.Notifier,
	materializer AttachmentMaterializer,
	cfg SyncConfig,
) SyncUsecase {
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = 25
	}
	owner := make(map[string]bool, len(cfg.OwnerAddresses))
	for _, a := range cfg.OwnerAddresses {
		owner[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &syncUsecase{
		mail:         mail,
		locker:       locker,
		cursors:      cursors,
		emails:       emails,
		resolver:     resolver,
		followUps:    followUps,
		notifier:     notifier,
		materializer: materializer,
		batchLimit:   limit,
		owner:        owner,
		now:          time.Now,
	}
}

// Run performs one bounded sync pass. Messages are handled one at a time.
// A message whose values the datastore rejects is skipped and reported in
// SyncResult.Skipped. Any other datastore or fetch failure stops the batch
// and the cursor only moves over UIDs committed before it.
func (u *syncUsecase) Run(ctx context.Context) (*SyncResult, error) {
	log := logger.With("sync")
	res := &SyncResult{}
	started := u.now()

	session, err := u.mail.Connect(ctx)
	if err != nil {
		return res, &SyncError{Phase: PhaseConnecting, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug().Err(err).Msg("logout")
		}
	}()

	mailbox, err := session.LocateMailbox(ctx)
	if err != nil {
		return res, &SyncError{Phase: PhaseLocatingMailbox, Err: err}
	}
	res.Mailbox = mailbox

	release, err := u.locker.TryLock(ctx, "mailbox-sync:"+mailbox)
	if err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			err = ErrMailboxLocked
		}
		return res, &SyncError{Phase: PhaseLocking, Err: err}
	}
	defer release()

	cursor, err := u.cursors.Load(ctx)
	if err != nil {
		return res, &SyncError{Phase: PhaseLoadingCursor, Err: err}
	}
	res.CursorBefore = cursor.LastUID
	res.CursorAfter = cursor.LastUID

	uids, err := session.SearchUIDsAfter(ctx, uint32(cursor.LastUID))
	if err != nil {
		return res, &SyncError{Phase: PhaseSearching, Err: err}
	}
	res.Found = len(uids)
	if len(uids) == 0 {
		log.Debug().Str("mailbox", mailbox).Int64("cursor", cursor.LastUID).Msg("no new messages")
		return res, nil
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	batch := uids
	if len(batch) > u.batchLimit {
		batch = batch[:u.batchLimit]
	}

	committed := make(map[uint32]bool, len(batch))
	fetchErr := session.FetchRaw(ctx, batch, func(raw imap.RawMessage) error {
		res.Fetched++
		if err := u.processMessage(ctx, raw, res); err != nil {
			if !database.IsDataException(err) {
				return &SyncError{Phase: PhaseProcessing, UID: raw.UID, Err: err}
			}
			res.Skipped = append(res.Skipped, SkippedMessage{UID: raw.UID, Phase: PhaseProcessing, Error: err.Error()})
			log.Error().Err(err).Str("phase", string(PhaseProcessing)).Uint32("uid", raw.UID).
				Str("mailbox", mailbox).Msg("message rejected by datastore, skipped")
		}
		committed[raw.UID] = true
		return nil
	})

	target := committedCursor(batch, committed, fetchErr == nil)
	if target > res.CursorBefore {
		if _, err := u.cursors.Advance(ctx, target, mailbox); err != nil {
			log.Error().Err(err).Int64("target", target).Msg("advance cursor")
			if fetchErr == nil {
				return res, &SyncError{Phase: PhaseAdvancingCursor, Err: err}
			}
		} else {
			res.CursorAfter = target
		}
	}

	if fetchErr != nil {
		var syncErr *SyncError
		if !errors.As(fetchErr, &syncErr) {
			syncErr = &SyncError{Phase: PhaseFetching, Err: fetchErr}
		}
		log.Error().Err(syncErr.Err).Str("phase", string(syncErr.Phase)).Uint32("uid", syncErr.UID).
			Str("mailbox", mailbox).Int64("cursor", res.CursorAfter).Msg("sync aborted")
		return res, syncErr
	}

	log.Info().
		Str("mailbox", mailbox).
		Str("phase", string(PhaseDone)).
		Int64("cursor_before", res.CursorBefore).
		Int64("cursor_after", res.CursorAfter).
		Int("found", res.Found).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("duplicates", res.Duplicates).
		Int("skipped", len(res.Skipped)).
		Dur("took", u.now().Sub(started)).
		Msg("sync finished")
	return res, nil
}

// committedCursor picks the new cursor value. After a clean fetch it is the
// highest committed UID. After a failure it is the end of the contiguous
// committed prefix of the ascending batch, so no UID below it is skipped.
func committedCursor(batch []uint32, committed map[uint32]bool, clean bool) int64 {
	var target int64
	for _, uid := range batch {
		if committed[uid] {
			target = int64(uid)
		} else if !clean {
			break
		}
	}
	return target
}

func (u *syncUsecase) processMessage(ctx context.Context, raw imap.RawMessage, res *SyncResult) error {
	log := logger.With("sync")

	msg := mailparse.Parse(raw.Body)
	if len(msg.Problems) > 0 {
		log.Debug().Uint32("uid", raw.UID).Strs("problems", msg.Problems).Msg("message parsed with problems")
	}

	direction := domain.DirectionInbound
	if u.owner[msg.Sender().Address] {
		direction = domain.DirectionOutbound
	}

	contactID, err := u.resolver.Resolve(ctx, u.candidates(msg, direction))
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	sentAt := u.now()
	if !raw.InternalDate.IsZero() {
		sentAt = raw.InternalDate
	} else if msg.Date != nil {
		sentAt = *msg.Date
	}

	existing, err := u.emails.FindByUID(ctx, int64(raw.UID))
	if err != nil {
		return fmt.Errorf("lookup uid: %w", err)
	}

	if existing != nil {
		changed, err := u.backfill(ctx, existing, msg, contactID, raw.UID)
		if err != nil {
			return err
		}
		if changed {
			res.Updated++
		}
		if existing.ContactID != nil && contactID == nil {
			contactID = existing.ContactID
		}
		direction = existing.Direction
	} else {
		email := u.buildEmail(ctx, raw.UID, msg, direction, contactID, sentAt)
		err := u.emails.Create(ctx, email)
		switch {
		case errors.Is(err, domain.ErrDuplicateEmail):
			res.Duplicates++
		case err != nil:
			return fmt.Errorf("insert email: %w", err)
		default:
			res.Inserted++
			if direction == domain.DirectionInbound {
				if u.notifyInbound(ctx, email, msg) {
					res.Notifications++
				}
			}
		}
	}

	if direction == domain.DirectionOutbound && contactID != nil {
		changed, err := u.followUps.HandleOutbound(ctx, *contactID, sentAt)
		if err != nil {
			return fmt.Errorf("follow-up: %w", err)
		}
		if changed {
			res.FollowUps++
		}
	}
	return nil
}

// candidates are the recipients minus the owner for outbound mail and the
// sender for inbound mail.
func (u *syncUsecase) candidates(msg *mailparse.Message, direction domain.Direction) []string {
	if direction == domain.DirectionInbound {
		if addr := msg.Sender().Address; addr != "" {
			return []string{addr}
		}
		return nil
	}
	var out []string
	for _, a := range msg.Recipients() {
		if a.Address != "" && !u.owner[a.Address] {
			out = append(out, a.Address)
		}
	}
	return out
}

func (u *syncUsecase) buildEmail(ctx context.Context, uid uint32, msg *mailparse.Message, direction domain.Direction, contactID *string, receivedAt time.Time) *domain.Email {
	id := int64(uid)
	sender := msg.Sender()
	return &domain.Email{
		ContactID:   contactID,
		Direction:   direction,
		UID:         &id,
		MessageID:   msg.MessageID,
		InReplyTo:   msg.InReplyTo,
		References:  strings.Join(msg.References, " "),
		FromAddress: sender.Address,
		FromName:    sender.Name,
		ToAddress:   joinAddresses(msg.To),
		CcAddress:   joinAddresses(msg.Cc),
		Subject:     msg.Subject,
		TextBody:    msg.TextBody,
		HTMLBody:    msg.HTMLBody,
		ReceivedAt:  &receivedAt,
		RawPayload: domain.RawPayload{
			Headers:     msg.Headers,
			Attachments: u.materializer.Materialize(ctx, uid, msg.Attachments),
			Problems:    msg.Problems,
		},
	}
}

// backfill fills in what an earlier pass missed. Direction and UID are
// never touched.
func (u *syncUsecase) backfill(ctx context.Context, existing *domain.Email, msg *mailparse.Message, contactID *string, uid uint32) (bool, error) {
	fields := map[string]interface{}{}

	if existing.ContactID == nil && contactID != nil {
		fields["contact_id"] = *contactID
	}
	sender := msg.Sender()
	if sender.Address != "" && existing.FromAddress != sender.Address {
		fields["from_address"] = sender.Address
	}
	if sender.Name != "" && existing.FromName != sender.Name {
		fields["from_name"] = sender.Name
	}
	if to := joinAddresses(msg.To); to != "" && existing.ToAddress != to {
		fields["to_address"] = to
	}
	if cc := joinAddresses(msg.Cc); cc != "" && existing.CcAddress != cc {
		fields["cc_address"] = cc
	}
	if attachmentsIncomplete(existing.RawPayload.Attachments, msg.Attachments) {
		payload := existing.RawPayload
		if payload.Headers == nil {
			payload.Headers = msg.Headers
		}
		payload.Attachments = u.materializer.Materialize(ctx, uid, msg.Attachments)
		fields["raw_payload"] = payload
	}

	if len(fields) == 0 {
		return false, nil
	}
	if err := u.emails.UpdateFields(ctx, existing.ID, fields); err != nil {
		return false, fmt.Errorf("backfill email: %w", err)
	}
	return true, nil
}

// attachmentsIncomplete reports whether stored metadata is missing entries or
// lacks a URL for a part that carries content.
func attachmentsIncomplete(stored []domain.AttachmentMeta, parsed []mailparse.Attachment) bool {
	if len(stored) != len(parsed) {
		return len(parsed) > 0
	}
	for i, att := range parsed {
		if len(att.Content) > 0 && !stored[i].Stored() {
			return true
		}
	}
	return false
}

func (u *syncUsecase) notifyInbound(ctx context.Context, email *domain.Email, msg *mailparse.Message) bool {
	from := email.FromName
	if from == "" {
		from = email.FromAddress
	}
	if from == "" {
		from = "unknown sender"
	}
	body := msg.Subject
	if snippet := msg.Snippet(140); snippet != "" {
		if body == "" {
			body = snippet
		} else {
			body += "\n" + snippet
		}
	}
	if body == "" {
		body = "(no subject)"
	}

	emailID := email.ID
	n := &notifdomain.Notification{
		Type:      notifdomain.TypeEmailReceived,
		ContactID: email.ContactID,
		EmailID:   &emailID,
		Title:     "New email from " + from,
		Body:      body,
	}
	if err := u.notifier.Create(ctx, n); err != nil {
		logger.With("sync").Warn().Err(err).Str("email_id", email.ID).Msg("inbound notification")
		return false
	}
	return true
}

func joinAddresses(list []mailparse.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
