package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-backend/internal/email/domain"
	"crm-backend/pkg/logger"
	"crm-backend/pkg/mailparse"
)

const maxFilenameLength = 120

// ObjectStore uploads attachment bytes and returns a fetchable URL.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// AttachmentMaterializer moves attachment payloads into object storage.
type AttachmentMaterializer interface {
	// Materialize returns one entry per attachment in input order. Upload
	// failures leave URL nil and are never retried here.
	Materialize(ctx context.Context, uid uint32, attachments []mailparse.Attachment) []domain.AttachmentMeta
}

type attachmentMaterializer struct {
	store ObjectStore
	now   func() time.Time
}

// NewAttachmentMaterializer accepts a nil store, in which case every
// attachment is recorded without a URL.
func NewAttachmentMaterializer(store ObjectStore) AttachmentMaterializer {
	return &attachmentMaterializer{store: store, now: time.Now}
}

func (m *attachmentMaterializer) Materialize(ctx context.Context, uid uint32, attachments []mailparse.Attachment) []domain.AttachmentMeta {
	log := logger.With("attachments")
	metas := make([]domain.AttachmentMeta, 0, len(attachments))

	for i, att := range attachments {
		name := SanitizeFilename(att.Filename)
		meta := domain.AttachmentMeta{
			Provider:    domain.ProviderIMAP,
			Index:       i,
			Filename:    name,
			ContentType: att.ContentType,
			Size:        att.Size,
			ContentID:   att.ContentID,
			Inline:      att.ContentID != "" || strings.EqualFold(att.Disposition, "inline"),
		}
		if meta.ContentType == "" {
			meta.ContentType = "application/octet-stream"
		}

		if len(att.Content) == 0 {
			metas = append(metas, meta)
			continue
		}
		if meta.Size == 0 {
			meta.Size = int64(len(att.Content))
		}

		path := fmt.Sprintf("imap/%d/%d/%d/%s", uid, i, m.now().UnixMilli(), name)
		if m.store == nil {
			meta.UploadError = "object storage is not configured"
			metas = append(metas, meta)
			continue
		}

		url, err := m.store.Upload(ctx, path, meta.ContentType, att.Content)
		if err != nil {
			log.Warn().Err(err).Uint32("uid", uid).Int("index", i).Str("path", path).Msg("attachment upload failed")
			meta.UploadError = err.Error()
			metas = append(metas, meta)
			continue
		}
		meta.Path = path
		meta.URL = &url
		metas = append(metas, meta)
	}
	return metas
}

// SanitizeFilename keeps [A-Za-z0-9._-], replaces everything else with "_"
// and caps the length while preserving the extension where possible.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if strings.Trim(out, "_") == "" {
		return "attachment"
	}

	if len(out) > maxFilenameLength {
		ext := ""
		if dot := strings.LastIndex(out, "."); dot > 0 && len(out)-dot <= 16 {
			ext = out[dot:]
		}
		out = out[:maxFilenameLength-len(ext)] + ext
	}
	return out
}
