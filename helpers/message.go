package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

// ParsedAttachment is one non-body part of a parsed message, content fully
// read into memory.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ParsedRecipient mirrors an address list entry of the parsed headers.
type ParsedRecipient struct {
	Kind  string // to, cc, bcc
	Name  string
	Email string
}

// ParsedMessage is the flattened form of a raw RFC 5322 message: at most one
// plain body, at most one HTML body, and every remaining leaf part collected
// as an attachment.
type ParsedMessage struct {
	MessageID   string
	InReplyTo   string
	References  string
	Subject     string
	Sender      string
	SenderName  string
	Recipients  []ParsedRecipient
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []ParsedAttachment
}

// ParseMessage walks the MIME structure of a full message. The first
// text/plain leaf becomes BodyText, the first text/html leaf becomes
// BodyHTML, everything else becomes an attachment. If only HTML is present
// the plain body is derived from it.
func ParseMessage(r io.Reader) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedMessage{}
	header := mr.Header
	parsed.Subject, _ = header.Subject()
	parsed.MessageID, _ = header.MessageID()
	if refs, err := header.MsgIDList("In-Reply-To"); err == nil && len(refs) > 0 {
		parsed.InReplyTo = refs[len(refs)-1]
	}
	if refs, err := header.MsgIDList("References"); err == nil && len(refs) > 0 {
		parsed.References = strings.Join(refs, " ")
	}
	if date, err := header.Date(); err == nil {
		parsed.Date = date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.Sender = strings.ToLower(from[0].Address)
		parsed.SenderName = from[0].Name
	}
	for _, field := range []struct{ header, kind string }{
		{"To", "to"}, {"Cc", "cc"}, {"Bcc", "bcc"},
	} {
		list, err := header.AddressList(field.header)
		if err != nil {
			continue
		}
		for _, a := range list {
			parsed.Recipients = append(parsed.Recipients, ParsedRecipient{
				Kind:  field.kind,
				Name:  a.Name,
				Email: strings.ToLower(a.Address),
			})
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read body part: %w", err)
			}
			switch mediaType {
			case "text/plain":
				if parsed.BodyText == "" {
					parsed.BodyText = string(content)
				}
			case "text/html":
				if parsed.BodyHTML == "" {
					parsed.BodyHTML = string(content)
				}
			default:
				parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
					Filename:    inlineFilename(h),
					ContentType: mediaType,
					Content:     content,
				})
			}
		case *mail.AttachmentHeader:
			mediaType, _, _ := h.ContentType()
			filename, _ := h.Filename()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment: %w", err)
			}
			parsed.Attachments = append(parsed.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		}
	}

	if parsed.BodyText == "" && parsed.BodyHTML != "" {
		parsed.BodyText = html2text.HTML2Text(parsed.BodyHTML)
	}
	if parsed.Date.IsZero() {
		parsed.Date = time.Now()
	}
	return parsed, nil
}

// inlineFilename digs the name of an inline part out of its
// Content-Disposition, falling back to the Content-Type name parameter the
// way attachment headers resolve theirs.
func inlineFilename(h *mail.InlineHeader) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	_, params, _ := h.ContentType()
	return params["name"]
}

// DedupKey returns the stable identity of a message for at-most-once
// ingestion: the Message-ID without brackets when present, otherwise a
// 64-hex-character SHA-256 digest of the raw message bytes.
func DedupKey(messageID string, raw []byte) string {
	if id := StripMessageIDBrackets(messageID); id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
