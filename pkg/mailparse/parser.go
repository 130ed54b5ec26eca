// Package mailparse turns raw RFC 5322 messages into structured records.
//
// Parse never fails: anything that cannot be decoded is left empty and the
// reason is appended to Message.Problems.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// maxPartSize bounds how much of a single MIME part is read into memory.
const maxPartSize = 25 << 20

type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	ContentID   string
	Disposition string
	Content     []byte
}

type Message struct {
	From       []Address
	To         []Address
	Cc         []Address
	Bcc        []Address
	Subject    string
	TextBody   string
	HTMLBody   string
	MessageID  string
	InReplyTo  string
	References []string
	// Date is nil when the header is missing or unparseable.
	Date        *time.Time
	Attachments []Attachment
	Headers     map[string][]string
	Problems    []string
}

// Sender returns the first From address, or the zero Address.
func (m *Message) Sender() Address {
	if len(m.From) == 0 {
		return Address{}
	}
	return m.From[0]
}

// Recipients returns To, Cc and Bcc addresses in that order.
func (m *Message) Recipients() []Address {
	out := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// PlainText prefers the text body and falls back to the HTML body stripped of markup.
func (m *Message) PlainText() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return m.TextBody
	}
	return HTMLToText(m.HTMLBody)
}

// Snippet returns the first n runes of the plain text with whitespace collapsed.
func (m *Message) Snippet(n int) string {
	return Clip(strings.Join(strings.Fields(m.PlainText()), " "), n)
}

func (m *Message) problem(format string, args ...any) {
	m.Problems = append(m.Problems, fmt.Sprintf(format, args...))
}

// Parse decodes raw message bytes. Every string in the result is valid
// UTF-8 without NUL bytes.
func Parse(raw []byte) *Message {
	msg := &Message{Headers: map[string][]string{}}
	parse(msg, raw)
	msg.sanitize()
	return msg
}

func parse(msg *Message, raw []byte) {
	if len(raw) == 0 {
		msg.problem("empty message")
		return
	}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		msg.problem("read message: %v", err)
		msg.TextBody = string(raw)
		return
	}
	if err != nil {
		// Unknown charset: go-message still hands back a usable reader.
		msg.problem("charset: %v", err)
	}
	defer mr.Close()

	readHeader(msg, mr.Header)
	readParts(msg, mr)
}

func readHeader(msg *Message, h gomail.Header) {
	fields := h.Fields()
	for fields.Next() {
		key := fields.Key()
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers[key] = append(msg.Headers[key], value)
	}

	msg.From = addressList(msg, h, "From")
	msg.To = addressList(msg, h, "To")
	msg.Cc = addressList(msg, h, "Cc")
	msg.Bcc = addressList(msg, h, "Bcc")

	if subject, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.problem("subject: %v", err)
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}

	if h.Has("Date") {
		if date, err := h.Date(); err == nil && !date.IsZero() {
			d := date.UTC()
			msg.Date = &d
		} else if date, err := mail.ParseDate(h.Get("Date")); err == nil {
			d := date.UTC()
			msg.Date = &d
		} else {
			msg.problem("date: unparseable %q", h.Get("Date"))
		}
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		msg.MessageID = "<" + id + ">"
	} else if raw := strings.TrimSpace(h.Get("Message-Id")); raw != "" {
		msg.MessageID = raw
	}

	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = "<" + ids[0] + ">"
	} else {
		msg.InReplyTo = strings.TrimSpace(h.Get("In-Reply-To"))
	}

	if ids, err := h.MsgIDList("References"); err == nil {
		for _, id := range ids {
			msg.References = append(msg.References, "<"+id+">")
		}
	} else {
		msg.References = strings.Fields(h.Get("References"))
	}
}

func addressList(msg *Message, h gomail.Header, key string) []Address {
	if !h.Has(key) {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		msg.problem("%s: %v", strings.ToLower(key), err)
		return looseAddresses(h.Get(key))
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a == nil || a.Address == "" {
			continue
		}
		out = append(out, Address{Name: a.Name, Address: strings.ToLower(a.Address)})
	}
	return out
}

// looseAddresses salvages anything that looks like an address from a header
// the strict RFC parser rejected.
func looseAddresses(value string) []Address {
	var out []Address
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := ""
		addr := part
		if lt := strings.LastIndex(part, "<"); lt >= 0 {
			if gt := strings.LastIndex(part, ">"); gt > lt {
				addr = part[lt+1 : gt]
				name = strings.Trim(strings.TrimSpace(part[:lt]), `"`)
			}
		}
		addr = strings.ToLower(strings.TrimSpace(addr))
		if !strings.Contains(addr, "@") {
			continue
		}
		out = append(out, Address{Name: name, Address: addr})
	}
	return out
}

func readParts(msg *Message, mr *gomail.Reader) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			msg.problem("part: %v", err)
			if part == nil {
				if message.IsUnknownEncoding(err) {
					continue
				}
				return
			}
			// Unknown charset: the body is kept undecoded.
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if err != nil {
			msg.problem("read part: %v", err)
			continue
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			readInline(msg, h, body)
		case *gomail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				msg.problem("attachment filename: %v", err)
			}
			contentType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				ContentID:   contentID(h.Get("Content-Id")),
				Disposition: "attachment",
				Content:     body,
			})
		}
	}
}

func readInline(msg *Message, h *gomail.InlineHeader, body []byte) {
	contentType, ctParams, err := h.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}
	disposition, dispParams, _ := h.ContentDisposition()
	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}
	if filename != "" {
		if decoded, err := new(mime.WordDecoder).DecodeHeader(filename); err == nil {
			filename = decoded
		}
	}

	if filename == "" {
		switch {
		case strings.HasPrefix(contentType, "text/plain") && msg.TextBody == "":
			msg.TextBody = string(body)
			return
		case strings.HasPrefix(contentType, "text/html") && msg.HTMLBody == "":
			msg.HTMLBody = string(body)
			return
		}
	}

	if disposition == "" {
		disposition = "inline"
	}
	msg.Attachments = append(msg.Attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(body)),
		ContentID:   contentID(h.Get("Content-Id")),
		Disposition: disposition,
		Content:     body,
	})
}

func contentID(v string) string {
	return strings.Trim(strings.TrimSpace(v), "<>")
}
