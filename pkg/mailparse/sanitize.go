package mailparse

import (
	"strings"
	"unicode/utf8"
)

// cleanText replaces invalid UTF-8 with U+FFFD and drops NUL bytes.
// It reports whether s had to change.
func cleanText(s string) (string, bool) {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s, false
	}
	s = strings.ToValidUTF8(s, "�")
	return strings.ReplaceAll(s, "\x00", ""), true
}

// sanitize makes every text field storable in a Postgres text or jsonb
// column. Each repaired field is recorded once in Problems.
func (m *Message) sanitize() {
	fixed := map[string]bool{}
	clean := func(field string, s *string) {
		if out, changed := cleanText(*s); changed {
			*s = out
			fixed[field] = true
		}
	}

	clean("subject", &m.Subject)
	clean("text body", &m.TextBody)
	clean("html body", &m.HTMLBody)
	clean("message-id", &m.MessageID)
	clean("in-reply-to", &m.InReplyTo)
	for i := range m.References {
		clean("references", &m.References[i])
	}

	for _, list := range [][]Address{m.From, m.To, m.Cc, m.Bcc} {
		for i := range list {
			clean("address", &list[i].Name)
			clean("address", &list[i].Address)
		}
	}

	for i := range m.Attachments {
		clean("attachment metadata", &m.Attachments[i].Filename)
		clean("attachment metadata", &m.Attachments[i].ContentType)
		clean("attachment metadata", &m.Attachments[i].ContentID)
		clean("attachment metadata", &m.Attachments[i].Disposition)
	}

	headers := make(map[string][]string, len(m.Headers))
	for key, values := range m.Headers {
		k := key
		clean("headers", &k)
		vs := make([]string, len(values))
		for i, v := range values {
			vs[i] = v
			clean("headers", &vs[i])
		}
		headers[k] = append(headers[k], vs...)
	}
	m.Headers = headers

	for i := range m.Problems {
		m.Problems[i], _ = cleanText(m.Problems[i])
	}
	for _, field := range []string{"subject", "text body", "html body", "message-id", "in-reply-to", "references", "address", "attachment metadata", "headers"} {
		if fixed[field] {
			m.problem("%s: invalid UTF-8 or NUL bytes replaced", field)
		}
	}
}
