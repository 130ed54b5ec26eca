package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"crm-backend/internal/contact/domain"
)

// memContacts is an in-memory ContactRepository.
type memContacts struct {
	byID    map[string]*domain.Contact
	updates int
	err     error
}

func newMemContacts(contacts ...domain.Contact) *memContacts {
	m := &memContacts{byID: map[string]*domain.Contact{}}
	for i := range contacts {
		c := contacts[i]
		m.byID[c.ID] = &c
	}
	return m
}

func (m *memContacts) sorted() []domain.Contact {
	out := make([]domain.Contact, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memContacts) Create(_ context.Context, c *domain.Contact) error {
	m.byID[c.ID] = c
	return nil
}

func (m *memContacts) FindByID(_ context.Context, id string) (*domain.Contact, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memContacts) FindByAddressFragments(_ context.Context, fragments []string) ([]domain.Contact, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Contact
	for _, c := range m.sorted() {
		if c.Email == nil {
			continue
		}
		email := strings.ToLower(*c.Email)
		for _, f := range fragments {
			if strings.Contains(email, strings.ToLower(f)) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *memContacts) ListPage(_ context.Context, offset, limit int) ([]domain.Contact, error) {
	all := m.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memContacts) ListDueFollowUps(_ context.Context, now time.Time) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range m.sorted() {
		if !c.Status.Active() || c.NextActionDate == nil || c.NextActionDate.After(now) {
			continue
		}
		if c.FollowUpRemindedAt != nil && !c.FollowUpRemindedAt.Before(*c.NextActionDate) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memContacts) Update(_ context.Context, c *domain.Contact) error {
	if m.err != nil {
		return m.err
	}
	cp := *c
	m.byID[c.ID] = &cp
	m.updates++
	return nil
}

func (m *memContacts) MarkReminded(_ context.Context, id string, at time.Time) error {
	m.byID[id].FollowUpRemindedAt = &at
	return nil
}
