package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	contactdomain "crm-backend/internal/contact/domain"
)

// ErrModelResponseInvalid is returned when a model answer does not fit the
// expected schema.
var ErrModelResponseInvalid = errors.New("model response does not match the expected schema")

// ThreadKey names the kind of cached artifact.
type ThreadKey string

const (
	ThreadSummary        ThreadKey = "contact-summary"
	ThreadClassification ThreadKey = "contact-classification"
)

// ConversationCache stores a model answer for a contact together with the
// timestamp of the newest email it considered.
type ConversationCache struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	ContactID string    `json:"contact_id" gorm:"not null;uniqueIndex:idx_cache_contact_thread"`
	ThreadKey ThreadKey `json:"thread_key" gorm:"type:varchar(64);not null;uniqueIndex:idx_cache_contact_thread"`
	Payload   string    `json:"payload" gorm:"type:text;not null"`
	Watermark time.Time `json:"watermark" gorm:"not null"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ConversationCache) TableName() string {
	return "conversation_caches"
}

// FreshFor reports whether the entry still covers latest.
func (c *ConversationCache) FreshFor(latest time.Time) bool {
	return !c.Watermark.Before(latest)
}

// ClassifyCursor is the durable offset of the classification ring walk.
type ClassifyCursor struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Offset    int       `json:"offset" gorm:"column:offset;not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ClassifyCursor) TableName() string {
	return "classify_cursors"
}

// ClassifyCursorID keys the classification cursor row.
const ClassifyCursorID = "classification"

// SummaryResult is the structured conversation summary.
type SummaryResult struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	NextStep  string   `json:"next_step"`
}

// ClassificationResult is the structured status classification.
type ClassificationResult struct {
	Category   contactdomain.Status `json:"category"`
	Confidence float64              `json:"confidence"`
	Reason     string               `json:"reason"`
}

// ParseSummary decodes and validates a summary payload.
func ParseSummary(payload string) (*SummaryResult, error) {
	var raw struct {
		Summary   *string  `json:"summary"`
		KeyPoints []string `json:"key_points"`
		NextStep  string   `json:"next_step"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelResponseInvalid, err)
	}
	if raw.Summary == nil || strings.TrimSpace(*raw.Summary) == "" {
		return nil, fmt.Errorf("%w: summary is empty", ErrModelResponseInvalid)
	}

	points := make([]string, 0, len(raw.KeyPoints))
	for _, p := range raw.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	return &SummaryResult{
		Summary:   strings.TrimSpace(*raw.Summary),
		KeyPoints: points,
		NextStep:  strings.TrimSpace(raw.NextStep),
	}, nil
}

// ParseClassification decodes and validates a classification payload.
// Categories are matched case-insensitively and "_" or " " separators are
// accepted for "-".
func ParseClassification(payload string) (*ClassificationResult, error) {
	var raw struct {
		Category   string   `json:"category"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelResponseInvalid, err)
	}

	category := contactdomain.Status(strings.NewReplacer("_", "-", " ", "-").
		Replace(strings.ToLower(strings.TrimSpace(raw.Category))))
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrModelResponseInvalid, raw.Category)
	}

	confidence := 0.0
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrModelResponseInvalid, confidence)
	}

	return &ClassificationResult{
		Category:   category,
		Confidence: confidence,
		Reason:     strings.TrimSpace(raw.Reason),
	}, nil
}
