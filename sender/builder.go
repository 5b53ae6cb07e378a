package sender

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/plumemail/plume/db"
)

// OutgoingMessage is everything needed to assemble one RFC 5322 message.
type OutgoingMessage struct {
	From        string
	FromName    string
	Recipients  []db.Recipient
	Subject     string
	BodyText    string
	BodyHTML    string
	InReplyTo   string
	References  string
	MessageID   string // without angle brackets
	Date        time.Time
	Attachments []OutgoingAttachment
}

type OutgoingAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// NewMessageID generates a fresh Message-ID rooted in the sender's domain,
// returned without angle brackets.
func NewMessageID(senderDomain string) string {
	return fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain)
}

// InjectTrackingPixel appends a 1x1 image pointing at the open-tracking
// endpoint. The pixel goes just before </body> when the markup has one.
func InjectTrackingPixel(html, apiBase string, pixelID uuid.UUID) string {
	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" alt="" style="display:none">`,
		strings.TrimRight(apiBase, "/"), pixelID)
	if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
		return html[:i] + pixel + html[i:]
	}
	return html + pixel
}

// Build assembles the raw message bytes. Text and HTML bodies go into a
// multipart/alternative section; attachments wrap the whole thing in
// multipart/mixed. A missing text body is derived from the HTML one.
func Build(msg *OutgoingMessage) ([]byte, error) {
	bodyText := msg.BodyText
	if bodyText == "" && msg.BodyHTML != "" {
		bodyText = html2text.HTML2Text(msg.BodyHTML)
	}

	var header mail.Header
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	header.SetDate(date)
	header.SetSubject(msg.Subject)
	header.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.From}})
	if msg.MessageID != "" {
		header.SetMessageID(msg.MessageID)
	}
	if msg.InReplyTo != "" {
		header.Set("In-Reply-To", angled(msg.InReplyTo))
	}
	if msg.References != "" {
		var refs []string
		for _, r := range strings.Fields(msg.References) {
			refs = append(refs, angled(r))
		}
		header.Set("References", strings.Join(refs, " "))
	}

	var to, cc []*mail.Address
	for _, r := range msg.Recipients {
		addr := &mail.Address{Name: r.Name, Address: r.Email}
		switch r.Kind {
		case "cc":
			cc = append(cc, addr)
		case "bcc":
			// bcc recipients only appear in the envelope
		default:
			to = append(to, addr)
		}
	}
	if len(to) > 0 {
		header.SetAddressList("To", to)
	}
	if len(cc) > 0 {
		header.SetAddressList("Cc", cc)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	io.WriteString(pw, bodyText)
	pw.Close()

	if msg.BodyHTML != "" {
		var htmlHeader mail.InlineHeader
		htmlHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		pw, err = iw.CreatePart(htmlHeader)
		if err != nil {
			return nil, err
		}
		io.WriteString(pw, msg.BodyHTML)
		pw.Close()
	}
	iw.Close()

	for _, a := range msg.Attachments {
		var ah mail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(a.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(a.Content); err != nil {
			return nil, err
		}
		aw.Close()
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EnvelopeRecipients returns the full envelope recipient list, bcc included.
func EnvelopeRecipients(recipients []db.Recipient) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range recipients {
		addr := strings.ToLower(r.Email)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

func angled(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
