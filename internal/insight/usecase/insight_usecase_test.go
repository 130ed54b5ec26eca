package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	contactdomain "crm-backend/internal/contact/domain"
	emaildomain "crm-backend/internal/email/domain"
	"crm-backend/internal/insight/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memContacts struct {
	list []contactdomain.Contact
}

func (m *memContacts) FindByID(_ context.Context, id string) (*contactdomain.Contact, error) {
	for i := range m.list {
		if m.list[i].ID == id {
			c := m.list[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memContacts) ListPage(_ context.Context, offset, limit int) ([]contactdomain.Contact, error) {
	sorted := append([]contactdomain.Contact{}, m.list...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if offset >= len(sorted) {
		return nil, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], nil
}

func (m *memContacts) Update(_ context.Context, c *contactdomain.Contact) error {
	for i := range m.list {
		if m.list[i].ID == c.ID {
			m.list[i] = *c
		}
	}
	return nil
}

type memHistory struct {
	byContact map[string][]emaildomain.Email
}

func (m *memHistory) LatestActivity(_ context.Context, contactID string, _ []string) (*time.Time, error) {
	var latest *time.Time
	for _, e := range m.byContact[contactID] {
		ts := e.Timestamp()
		if latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}
	return latest, nil
}

func (m *memHistory) Recent(_ context.Context, contactID string, _ []string, limit int) ([]emaildomain.Email, error) {
	emails := append([]emaildomain.Email{}, m.byContact[contactID]...)
	sort.Slice(emails, func(i, j int) bool { return emails[i].Timestamp().After(emails[j].Timestamp()) })
	if len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

type memCache struct {
	entries map[string]domain.ConversationCache
	upserts int
}

func (m *memCache) Find(_ context.Context, contactID string, key domain.ThreadKey) (*domain.ConversationCache, error) {
	e, ok := m.entries[contactID+"/"+string(key)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memCache) Upsert(_ context.Context, e *domain.ConversationCache) error {
	m.entries[e.ContactID+"/"+string(e.ThreadKey)] = *e
	m.upserts++
	return nil
}

type memCursor struct {
	offset int
	moved  bool
}

func (m *memCursor) Load(context.Context) (*domain.ClassifyCursor, error) {
	return &domain.ClassifyCursor{ID: domain.ClassifyCursorID, Offset: m.offset}, nil
}

func (m *memCursor) CompareAndSet(_ context.Context, prev, next int) (bool, error) {
	if m.moved || m.offset != prev {
		return false, nil
	}
	m.offset = next
	return true, nil
}

type scriptedModel struct {
	answers map[string]string // keyed by contact name found in the prompt
	fallback string
	prompts []string
	err     error
}

func (s *scriptedModel) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	for name, answer := range s.answers {
		if strings.Contains(prompt, "Name: "+name+"\n") {
			return answer, nil
		}
	}
	return s.fallback, nil
}

func (s *scriptedModel) Model() string { return "test:model" }

func at(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }

func inbound(h int, body string) emaildomain.Email {
	ts := at(h)
	return emaildomain.Email{Direction: emaildomain.DirectionInbound, FromAddress: "dir@x.com", Subject: "re", TextBody: body, ReceivedAt: &ts}
}

type fixture struct {
	contacts *memContacts
	history  *memHistory
	cache    *memCache
	cursor   *memCursor
	model    *scriptedModel
}

func newFixture() *fixture {
	return &fixture{
		contacts: &memContacts{},
		history:  &memHistory{byContact: map[string][]emaildomain.Email{}},
		cache:    &memCache{entries: map[string]domain.ConversationCache{}},
		cursor:   &memCursor{},
		model:    &scriptedModel{fallback: `{"category":"interested","confidence":0.7,"reason":"asked for script"}`},
	}
}

func (f *fixture) usecase(pageSize int) InsightUsecase {
	return NewInsightUsecase(f.contacts, f.history, f.cache, f.cursor, f.model, Config{PageSize: pageSize, BodyCharLimit: 20})
}

func (f *fixture) addContact(id string, status contactdomain.Status, age int) {
	email := id + "@x.com"
	f.contacts.list = append(f.contacts.list, contactdomain.Contact{
		ID: id, Name: id, Email: &email, Status: status, CreatedAt: at(0).Add(time.Duration(age) * time.Minute),
	})
}

func TestClassifyUsesFreshCache(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(9, "hello")}
	f.cache.entries["c1/"+string(domain.ThreadClassification)] = domain.ConversationCache{
		ContactID: "c1",
		ThreadKey: domain.ThreadClassification,
		Payload:   `{"category":"closed","confidence":0.9,"reason":"signed"}`,
		Watermark: at(10),
		Model:     "old:model",
	}

	out, err := f.usecase(20).Classify(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Equal(t, contactdomain.StatusClosed, out.Classification.Category)
	assert.Equal(t, "old:model", out.Model)
	assert.Empty(t, f.model.prompts)
	assert.False(t, out.StatusChanged)
}

func TestClassifyRefreshesStaleCacheAndUpdatesStatus(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(11, "send me the script please, it sounds great")}
	f.cache.entries["c1/"+string(domain.ThreadClassification)] = domain.ConversationCache{
		ContactID: "c1", ThreadKey: domain.ThreadClassification,
		Payload: `{"category":"to-contact","confidence":0.9}`, Watermark: at(10),
	}
	f.model.fallback = "```json\n{\"category\":\"interested\",\"confidence\":0.7,\"reason\":\"asked for script\"}\n```"

	out, err := f.usecase(20).Classify(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.True(t, out.StatusChanged)
	assert.Equal(t, contactdomain.StatusInterested, f.contacts.list[0].Status)
	require.Len(t, f.model.prompts, 1)
	assert.Contains(t, f.model.prompts[0], "send me the script p…")

	entry := f.cache.entries["c1/"+string(domain.ThreadClassification)]
	assert.Equal(t, at(11), entry.Watermark)
	assert.Equal(t, "test:model", entry.Model)
	assert.NotContains(t, entry.Payload, "```")
}

func TestClassifyForceBypassesCache(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusInterested, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(9, "hi")}
	f.cache.entries["c1/"+string(domain.ThreadClassification)] = domain.ConversationCache{
		ContactID: "c1", ThreadKey: domain.ThreadClassification,
		Payload: `{"category":"interested","confidence":0.9}`, Watermark: at(10),
	}

	out, err := f.usecase(20).Classify(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Len(t, f.model.prompts, 1)
	assert.False(t, out.StatusChanged)
}

func TestClassifyToClosedClearsNextAction(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusInterested, 0)
	next := at(20)
	f.contacts.list[0].NextActionDate = &next
	f.history.byContact["c1"] = []emaildomain.Email{inbound(9, "we have a deal")}
	f.model.fallback = `{"category":"closed","confidence":0.95,"reason":"deal"}`

	_, err := f.usecase(20).Classify(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.Equal(t, contactdomain.StatusClosed, f.contacts.list[0].Status)
	assert.Nil(t, f.contacts.list[0].NextActionDate)
}

func TestInvalidModelAnswerIsAnError(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(9, "hi")}
	f.model.fallback = `{"category":"hot lead","confidence":0.5}`

	_, err := f.usecase(20).Classify(context.Background(), "c1", false)
	assert.ErrorIs(t, err, domain.ErrModelResponseInvalid)
	assert.Zero(t, f.cache.upserts)

	f.model.fallback = "I cannot help with that."
	_, err = f.usecase(20).Summarize(context.Background(), "c1", false)
	assert.ErrorIs(t, err, domain.ErrModelResponseInvalid)
}

func TestNoEmailsSkipsModel(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)

	out, err := f.usecase(20).Summarize(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.True(t, out.NoEmails)
	assert.Nil(t, out.Summary)
	assert.Empty(t, f.model.prompts)
}

func TestSummarizeCachesResult(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(8, "alpha-note"), inbound(9, "beta-note")}
	f.model.fallback = `{"summary":"Two short notes.","key_points":["first","second"],"next_step":"reply"}`
	uc := f.usecase(20)

	out, err := uc.Summarize(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, "Two short notes.", out.Summary.Summary)
	assert.Less(t, strings.Index(f.model.prompts[0], "alpha-note"), strings.Index(f.model.prompts[0], "beta-note"))

	out, err = uc.Summarize(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Len(t, f.model.prompts, 1)
}

func TestUnknownContact(t *testing.T) {
	_, err := newFixture().usecase(20).Summarize(context.Background(), "nope", false)
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestClassifyBatchWalksRing(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		f.addContact(id, contactdomain.StatusToContact, i)
		f.history.byContact[id] = []emaildomain.Email{inbound(9, "hi")}
	}
	f.model.answers = map[string]string{"c3": `{"category":`}
	uc := f.usecase(2)

	res, err := uc.ClassifyBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offset)
	assert.Equal(t, 2, res.NextOffset)
	assert.Equal(t, 2, res.Refreshed)
	assert.Equal(t, 2, res.StatusChanged)

	res, err = uc.ClassifyBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.NextOffset)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "c3", res.Failed[0].ContactID)
	assert.Equal(t, 1, res.Refreshed)

	res, err = uc.ClassifyBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 0, res.NextOffset)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("Name: c%d\n", i)
		found := false
		for _, p := range f.model.prompts {
			found = found || strings.Contains(p, name)
		}
		assert.True(t, found, name)
	}

	// the second lap reuses caches
	res, err = uc.ClassifyBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Offset)
	assert.Equal(t, 2, res.Cached)
	assert.Len(t, f.model.prompts, 5)
}

func TestClassifyBatchCursorConflict(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.cursor.moved = true

	res, err := f.usecase(10).ClassifyBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.CursorConflict)
	assert.Equal(t, 1, res.Fetched)
}

func TestModelErrorIsolatedInBatch(t *testing.T) {
	f := newFixture()
	f.addContact("c1", contactdomain.StatusToContact, 0)
	f.history.byContact["c1"] = []emaildomain.Email{inbound(9, "hi")}
	f.model.err = errors.New("timeout")

	res, err := f.usecase(10).ClassifyBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error, "model call")
	assert.Equal(t, 0, res.NextOffset)
}
