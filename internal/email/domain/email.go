package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateEmail is returned when an insert collides with an existing UID.
var ErrDuplicateEmail = errors.New("email with this uid already exists")

// Direction tells whether the owner received or sent a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Email is one ingested or sent message. UID is the mailbox dedup key and is
// nil for messages recorded through the outbound path.
type Email struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	ContactID   *string    `json:"contact_id" gorm:"index"`
	Direction   Direction  `json:"direction" gorm:"type:varchar(16);not null"`
	UID         *int64     `json:"uid" gorm:"uniqueIndex"`
	MessageID   string     `json:"message_id" gorm:"index"`
	InReplyTo   string     `json:"in_reply_to"`
	References  string     `json:"references" gorm:"type:text"`
	FromAddress string     `json:"from_address" gorm:"index"`
	FromName    string     `json:"from_name"`
	ToAddress   string     `json:"to_address" gorm:"type:text"`
	CcAddress   string     `json:"cc_address" gorm:"type:text"`
	Subject     string     `json:"subject"`
	TextBody    string     `json:"text_body" gorm:"type:text"`
	HTMLBody    string     `json:"html_body" gorm:"type:text"`
	ReceivedAt  *time.Time `json:"received_at" gorm:"index"`
	RawPayload  RawPayload `json:"raw_payload" gorm:"type:jsonb"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Email) TableName() string {
	return "emails"
}

// Timestamp is the time the message counts as for ordering and watermarks.
func (e *Email) Timestamp() time.Time {
	if e.ReceivedAt != nil {
		return *e.ReceivedAt
	}
	return e.CreatedAt
}

// RawPayload is the structured remainder of a message kept as a jsonb document.
type RawPayload struct {
	Headers     map[string][]string `json:"headers,omitempty"`
	Attachments []AttachmentMeta    `json:"attachments"`
	Problems    []string            `json:"problems,omitempty"`
}

// Value implements driver.Valuer
func (p RawPayload) Value() (driver.Value, error) {
	if p.Attachments == nil {
		p.Attachments = []AttachmentMeta{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Attachment metadata goes through the strict
// parser so rows with unknown shapes surface as errors.
func (p *RawPayload) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*p = RawPayload{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("raw payload: unsupported type %T", value)
	}
	if len(data) == 0 {
		*p = RawPayload{}
		return nil
	}

	var doc struct {
		Headers     map[string][]string `json:"headers"`
		Attachments json.RawMessage     `json:"attachments"`
		Problems    []string            `json:"problems"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("raw payload: %w", err)
	}
	metas, err := ParseAttachmentMetas(doc.Attachments)
	if err != nil {
		return fmt.Errorf("raw payload: %w", err)
	}
	*p = RawPayload{Headers: doc.Headers, Attachments: metas, Problems: doc.Problems}
	return nil
}

// SyncCursor is the singleton progress marker of the mailbox sync.
type SyncCursor struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	LastUID   int64     `json:"last_uid" gorm:"not null;default:0"`
	Mailbox   string    `json:"mailbox"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// ImapCursorID keys the mailbox sync cursor row.
const ImapCursorID = "imap"
