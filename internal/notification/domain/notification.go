package domain

import "time"

// Type identifies what produced a notification.
type Type string

const (
	TypeEmailReceived Type = "email_received"
	TypeEmailSent     Type = "email_sent"
	TypeFollowUpDue   Type = "follow_up_due"
)

// Notification is an event shown in the CRM inbox and pushed to devices.
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Type      Type      `json:"type" gorm:"type:varchar(32);not null;index"`
	ContactID *string   `json:"contact_id" gorm:"index"`
	EmailID   *string   `json:"email_id"`
	Title     string    `json:"title" gorm:"not null"`
	Body      string    `json:"body" gorm:"type:text"`
	Read      bool      `json:"read" gorm:"not null;default:false;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for GORM
func (Notification) TableName() string {
	return "notifications"
}
