package dto

import "time"

// RecordOutboundRequest describes an email the owner sent outside the synced
// mailbox.
type RecordOutboundRequest struct {
	ContactID  *string    `json:"contact_id"`
	From       string     `json:"from"`
	To         []string   `json:"to" binding:"required,min=1"`
	Cc         []string   `json:"cc"`
	Subject    string     `json:"subject"`
	TextBody   string     `json:"text_body"`
	HTMLBody   string     `json:"html_body"`
	MessageID  string     `json:"message_id"`
	InReplyTo  string     `json:"in_reply_to"`
	References []string   `json:"references"`
	SentAt     *time.Time `json:"sent_at"`
}

type RecordOutboundResponse struct {
	EmailID          string  `json:"email_id"`
	ContactID        *string `json:"contact_id"`
	FollowUpUpdated  bool    `json:"follow_up_updated"`
	NotificationSent bool    `json:"notification_sent"`
}
