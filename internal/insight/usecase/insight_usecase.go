package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	contactdomain "crm-backend/internal/contact/domain"
	emaildomain "crm-backend/internal/email/domain"
	"crm-backend/internal/insight/domain"
	"crm-backend/internal/insight/repository"
	"crm-backend/pkg/ai"
	"crm-backend/pkg/logger"
)

// ErrContactNotFound is returned for unknown contact ids.
var ErrContactNotFound = errors.New("contact not found")

// ContactStore is the contact access the insight layer needs.
type ContactStore interface {
	FindByID(ctx context.Context, id string) (*contactdomain.Contact, error)
	ListPage(ctx context.Context, offset, limit int) ([]contactdomain.Contact, error)
	Update(ctx context.Context, contact *contactdomain.Contact) error
}

// EmailHistory reads a contact's emails.
type EmailHistory interface {
	LatestActivity(ctx context.Context, contactID string, addresses []string) (*time.Time, error)
	Recent(ctx context.Context, contactID string, addresses []string, limit int) ([]emaildomain.Email, error)
}

// Outcome is the answer for one contact and thread key.
type Outcome struct {
	ContactID      string                       `json:"contact_id"`
	ThreadKey      domain.ThreadKey             `json:"thread_key"`
	Cached         bool                         `json:"cached"`
	NoEmails       bool                         `json:"no_emails"`
	Watermark      *time.Time                   `json:"watermark,omitempty"`
	Model          string                       `json:"model,omitempty"`
	Summary        *domain.SummaryResult        `json:"summary,omitempty"`
	Classification *domain.ClassificationResult `json:"classification,omitempty"`
	StatusChanged  bool                         `json:"status_changed"`
}

// ContactFailure records a contact the batch could not classify.
type ContactFailure struct {
	ContactID string `json:"contact_id"`
	Error     string `json:"error"`
}

// BatchResult summarizes one classification batch.
type BatchResult struct {
	Offset         int              `json:"offset"`
	NextOffset     int              `json:"next_offset"`
	Fetched        int              `json:"fetched"`
	Cached         int              `json:"cached"`
	Refreshed      int              `json:"refreshed"`
	StatusChanged  int              `json:"status_changed"`
	Failed         []ContactFailure `json:"failed"`
	CursorConflict bool             `json:"cursor_conflict"`
}

// InsightUsecase produces cached AI summaries and classifications.
type InsightUsecase interface {
	Summarize(ctx context.Context, contactID string, force bool) (*Outcome, error)
	Classify(ctx context.Context, contactID string, force bool) (*Outcome, error)
	ClassifyBatch(ctx context.Context) (*BatchResult, error)
}

// Config holds the insight knobs.
type Config struct {
	ContextMessages int
	BodyCharLimit   int
	ModelTimeout    time.Duration
	PageSize        int
}

type insightUsecase struct {
	contacts  ContactStore
	emails    EmailHistory
	cache     repository.CacheRepository
	cursors   repository.ClassifyCursorRepository
	generator ai.TextGenerator
	cfg       Config
}

func NewInsightUsecase(
	contacts ContactStore,
	emails EmailHistory,
	cache repository.CacheRepository,
	cursors repository.ClassifyCursorRepository,
	generator ai.TextGenerator,
	cfg Config,
) InsightUsecase {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 8
	}
	if cfg.BodyCharLimit <= 0 {
		cfg.BodyCharLimit = 1500
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	return &insightUsecase{
		contacts:  contacts,
		emails:    emails,
		cache:     cache,
		cursors:   cursors,
		generator: generator,
		cfg:       cfg,
	}
}

func (u *insightUsecase) Summarize(ctx context.Context, contactID string, force bool) (*Outcome, error) {
	contact, err := u.loadContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return u.summarize(ctx, contact, force)
}

func (u *insightUsecase) Classify(ctx context.Context, contactID string, force bool) (*Outcome, error) {
	contact, err := u.loadContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	return u.classify(ctx, contact, force)
}

func (u *insightUsecase) loadContact(ctx context.Context, id string) (*contactdomain.Contact, error) {
	contact, err := u.contacts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	return contact, nil
}

func (u *insightUsecase) summarize(ctx context.Context, contact *contactdomain.Contact, force bool) (*Outcome, error) {
	out := &Outcome{ContactID: contact.ID, ThreadKey: domain.ThreadSummary}

	payload, hit, err := u.cachedOrGenerate(ctx, contact, domain.ThreadSummary, summaryInstructions, force, out,
		func(p string) error {
			s, err := domain.ParseSummary(p)
			if err == nil {
				out.Summary = s
			}
			return err
		})
	if err != nil || payload == "" {
		return out, err
	}
	out.Cached = hit
	return out, nil
}

func (u *insightUsecase) classify(ctx context.Context, contact *contactdomain.Contact, force bool) (*Outcome, error) {
	out := &Outcome{ContactID: contact.ID, ThreadKey: domain.ThreadClassification}

	payload, hit, err := u.cachedOrGenerate(ctx, contact, domain.ThreadClassification, classificationInstructions, force, out,
		func(p string) error {
			c, err := domain.ParseClassification(p)
			if err == nil {
				out.Classification = c
			}
			return err
		})
	if err != nil || payload == "" {
		return out, err
	}
	out.Cached = hit
	if hit {
		return out, nil
	}

	if contact.Status != out.Classification.Category {
		from := contact.Status
		contact.ApplyStatus(out.Classification.Category)
		if err := u.contacts.Update(ctx, contact); err != nil {
			return out, fmt.Errorf("update contact status: %w", err)
		}
		out.StatusChanged = true
		logger.With("insight").Info().
			Str("contact_id", contact.ID).
			Str("from", string(from)).
			Str("to", string(contact.Status)).
			Float64("confidence", out.Classification.Confidence).
			Msg("contact status reclassified")
	}
	return out, nil
}

// cachedOrGenerate runs the cache-read protocol. It returns the payload that
// was accepted by parse and whether it came from the cache. An empty payload
// with a nil error means the contact has no emails.
func (u *insightUsecase) cachedOrGenerate(
	ctx context.Context,
	contact *contactdomain.Contact,
	key domain.ThreadKey,
	instructions string,
	force bool,
	out *Outcome,
	parse func(string) error,
) (string, bool, error) {
	log := logger.With("insight").With().Str("contact_id", contact.ID).Str("thread_key", string(key)).Logger()
	addresses := contact.Addresses()

	latest, err := u.emails.LatestActivity(ctx, contact.ID, addresses)
	if err != nil {
		return "", false, fmt.Errorf("latest email: %w", err)
	}
	if latest == nil {
		out.NoEmails = true
		return "", false, nil
	}

	entry, err := u.cache.Find(ctx, contact.ID, key)
	if err != nil {
		return "", false, fmt.Errorf("load cache: %w", err)
	}
	if entry != nil && !force && entry.FreshFor(*latest) {
		if err := parse(entry.Payload); err == nil {
			wm := entry.Watermark
			out.Watermark = &wm
			out.Model = entry.Model
			return entry.Payload, true, nil
		}
		log.Warn().Msg("cached payload no longer parses, regenerating")
	}

	emails, err := u.emails.Recent(ctx, contact.ID, addresses, u.cfg.ContextMessages)
	if err != nil {
		return "", false, fmt.Errorf("load emails: %w", err)
	}
	prompt := buildPrompt(instructions, contact, emails, u.cfg.BodyCharLimit)

	callCtx, cancel := context.WithTimeout(ctx, u.cfg.ModelTimeout)
	answer, err := u.generator.Generate(callCtx, prompt)
	cancel()
	if err != nil {
		return "", false, fmt.Errorf("model call: %w", err)
	}
	model := u.generator.Model()

	payload := ai.ExtractJSON(answer)
	if payload == "" {
		log.Warn().Str("model", model).Msg("model answer has no JSON object")
		return "", false, fmt.Errorf("%w: no JSON object in answer", domain.ErrModelResponseInvalid)
	}
	if err := parse(payload); err != nil {
		log.Warn().Err(err).Str("model", model).Msg("model answer rejected")
		return "", false, err
	}

	entry = &domain.ConversationCache{
		ContactID: contact.ID,
		ThreadKey: key,
		Payload:   payload,
		Watermark: *latest,
		Model:     model,
	}
	if err := u.cache.Upsert(ctx, entry); err != nil {
		return "", false, fmt.Errorf("store cache: %w", err)
	}

	wm := *latest
	out.Watermark = &wm
	out.Model = model
	log.Info().Str("model", model).Msg("insight refreshed")
	return entry.Payload, false, nil
}

// ClassifyBatch classifies one page of contacts starting at the stored
// offset, then advances the offset, wrapping to zero at the end of the list.
func (u *insightUsecase) ClassifyBatch(ctx context.Context) (*BatchResult, error) {
	log := logger.With("classify-batch")

	cursor, err := u.cursors.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load classify cursor: %w", err)
	}

	contacts, err := u.contacts.ListPage(ctx, cursor.Offset, u.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	res := &BatchResult{Offset: cursor.Offset, Fetched: len(contacts), Failed: []ContactFailure{}}
	for i := range contacts {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, ContactFailure{ContactID: contacts[i].ID, Error: ctx.Err().Error()})
			continue
		}
		out, err := u.classify(ctx, &contacts[i], false)
		if err != nil {
			log.Warn().Err(err).Str("contact_id", contacts[i].ID).Msg("classification failed")
			res.Failed = append(res.Failed, ContactFailure{ContactID: contacts[i].ID, Error: err.Error()})
			continue
		}
		switch {
		case out.Cached:
			res.Cached++
		case out.Classification != nil:
			res.Refreshed++
		}
		if out.StatusChanged {
			res.StatusChanged++
		}
	}

	next := cursor.Offset + len(contacts)
	if len(contacts) < u.cfg.PageSize {
		next = 0
	}
	res.NextOffset = next

	ok, err := u.cursors.CompareAndSet(ctx, cursor.Offset, next)
	if err != nil {
		return res, fmt.Errorf("advance classify cursor: %w", err)
	}
	if !ok {
		res.CursorConflict = true
		log.Warn().Int("offset", cursor.Offset).Int("next", next).Msg("classify cursor moved by another run")
	}

	log.Info().
		Int("offset", res.Offset).
		Int("next_offset", res.NextOffset).
		Int("fetched", res.Fetched).
		Int("cached", res.Cached).
		Int("refreshed", res.Refreshed).
		Int("failed", len(res.Failed)).
		Msg("classification batch finished")
	return res, nil
}
