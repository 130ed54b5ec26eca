package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AttachmentProvider tags where an attachment's bytes came from.
type AttachmentProvider string

const (
	ProviderIMAP     AttachmentProvider = "imap"
	ProviderPostmark AttachmentProvider = "postmark"
)

// AttachmentMeta replaces an attachment payload once it has been stored.
// URL is nil when the upload failed or the part carried no content.
type AttachmentMeta struct {
	Provider    AttachmentProvider `json:"provider"`
	Index       int                `json:"index"`
	Filename    string             `json:"filename"`
	ContentType string             `json:"content_type"`
	Size        int64              `json:"size"`
	ContentID   string             `json:"content_id,omitempty"`
	Inline      bool               `json:"inline"`
	Path        string             `json:"path,omitempty"`
	URL         *string            `json:"url"`
	UploadError string             `json:"upload_error,omitempty"`
	// MessageID is the provider message reference for postmark attachments.
	MessageID string `json:"message_id,omitempty"`
}

// Stored reports whether the bytes are available in object storage.
func (m AttachmentMeta) Stored() bool {
	return m.URL != nil && *m.URL != ""
}

// ParseAttachmentMetas decodes and validates a stored attachment list.
// Unknown providers, unknown fields and out-of-order indexes are rejected.
func ParseAttachmentMetas(data []byte) ([]AttachmentMeta, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []AttachmentMeta{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("attachments: expected array: %w", err)
	}

	out := make([]AttachmentMeta, 0, len(items))
	for i, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.DisallowUnknownFields()
		var meta AttachmentMeta
		if err := dec.Decode(&meta); err != nil {
			return nil, fmt.Errorf("attachments[%d]: %w", i, err)
		}
		if err := meta.validate(i); err != nil {
			return nil, fmt.Errorf("attachments[%d]: %w", i, err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (m AttachmentMeta) validate(position int) error {
	switch m.Provider {
	case ProviderIMAP:
		if m.Stored() && m.Path == "" {
			return fmt.Errorf("imap attachment with url has no path")
		}
	case ProviderPostmark:
		if m.MessageID == "" && !m.Stored() {
			return fmt.Errorf("postmark attachment has neither message id nor url")
		}
	default:
		return fmt.Errorf("unknown provider %q", m.Provider)
	}
	if m.Index != position {
		return fmt.Errorf("index %d at position %d", m.Index, position)
	}
	if m.Filename == "" {
		return fmt.Errorf("missing filename")
	}
	if m.Size < 0 {
		return fmt.Errorf("negative size")
	}
	return nil
}
