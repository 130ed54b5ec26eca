package domain

import (
	"strings"
	"time"
)

// Status is the pipeline stage of a contact.
type Status string

const (
	StatusToContact     Status = "to-contact"
	StatusInterested    Status = "interested"
	StatusNotInterested Status = "not-interested"
	StatusClosed        Status = "closed"
)

// Statuses lists every valid status in pipeline order.
var Statuses = []Status{StatusToContact, StatusInterested, StatusNotInterested, StatusClosed}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Active reports whether follow-ups may be scheduled for the status.
func (s Status) Active() bool {
	return s != StatusClosed && s != StatusNotInterested
}

// Contact is a director or production company tracked by the CRM.
type Contact struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	Name               string     `json:"name" gorm:"not null"`
	Email              *string    `json:"email"` // one or more addresses separated by "," or ";"
	Company            string     `json:"company"`
	Role               string     `json:"role"`
	Status             Status     `json:"status" gorm:"type:varchar(32);not null;default:'to-contact';index"`
	LastActionDate     *time.Time `json:"last_action_date" gorm:"type:date"`
	LastActionNote     *string    `json:"last_action_note"`
	NextActionDate     *time.Time `json:"next_action_date" gorm:"type:date;index"`
	NextActionNote     *string    `json:"next_action_note"`
	Notes              string     `json:"notes" gorm:"type:text"`
	FollowUpRemindedAt *time.Time `json:"follow_up_reminded_at"`
	CreatedAt          time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Contact) TableName() string {
	return "contacts"
}

// ApplyStatus moves the contact to s. Inactive statuses drop any pending
// next action. It reports whether anything changed.
func (c *Contact) ApplyStatus(s Status) bool {
	changed := c.Status != s
	c.Status = s
	if !s.Active() && (c.NextActionDate != nil || c.NextActionNote != nil) {
		c.NextActionDate = nil
		c.NextActionNote = nil
		c.FollowUpRemindedAt = nil
		changed = true
	}
	return changed
}

// Addresses returns the normalized addresses stored on the contact.
func (c *Contact) Addresses() []string {
	if c.Email == nil {
		return nil
	}
	fields := strings.FieldsFunc(*c.Email, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		addr := NormalizeAddress(f)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// NormalizeAddress reduces "Name <User@Example.com>" and similar forms to a
// bare lower-case address. It returns "" for input without an "@".
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = s[i+1:]
		if j := strings.Index(s, ">"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "mailto:")
	s = strings.Trim(s, "<>\"' ")
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// CanonicalAddress drops a "+tag" sub-address from the local part.
func CanonicalAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	local, domain := addr[:at], addr[at:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local + domain
}

// AddressDomain returns the part after the last "@".
func AddressDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}
