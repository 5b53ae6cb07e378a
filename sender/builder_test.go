package sender

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
)

func TestBuildMultipart(t *testing.T) {
	raw, err := Build(&OutgoingMessage{
		From:     "alice@example.com",
		FromName: "Alice",
		Recipients: []db.Recipient{
			{Kind: "to", Email: "bob@example.com", Name: "Bob"},
			{Kind: "cc", Email: "carol@example.com"},
			{Kind: "bcc", Email: "hidden@example.com"},
		},
		Subject:   "Weekly notes",
		BodyText:  "plain version",
		BodyHTML:  "<p>html version</p>",
		MessageID: "gen-id@example.com",
		Attachments: []OutgoingAttachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("attached")},
		},
	})
	require.NoError(t, err)

	// the built message must parse back with the same structure
	parsed, err := helpers.ParseMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "Weekly notes", parsed.Subject)
	assert.Equal(t, "gen-id@example.com", parsed.MessageID)
	assert.Equal(t, "alice@example.com", parsed.Sender)
	assert.Contains(t, parsed.BodyText, "plain version")
	assert.Contains(t, parsed.BodyHTML, "html version")
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "notes.txt", parsed.Attachments[0].Filename)

	// bcc stays out of the headers
	assert.NotContains(t, string(raw), "hidden@example.com")
}

func TestBuildDerivesTextFromHTML(t *testing.T) {
	raw, err := Build(&OutgoingMessage{
		From:       "a@example.com",
		Recipients: []db.Recipient{{Kind: "to", Email: "b@example.com"}},
		Subject:    "x",
		BodyHTML:   "<p>Hello <b>world</b></p>",
	})
	require.NoError(t, err)

	parsed, err := helpers.ParseMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Contains(t, parsed.BodyText, "Hello")
	assert.NotContains(t, parsed.BodyText, "<b>")
}

func TestBuildThreadingHeaders(t *testing.T) {
	raw, err := Build(&OutgoingMessage{
		From:       "a@example.com",
		Recipients: []db.Recipient{{Kind: "to", Email: "b@example.com"}},
		Subject:    "Re: x",
		BodyText:   "reply",
		InReplyTo:  "orig@example.com",
		References: "root@example.com orig@example.com",
	})
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "In-Reply-To: <orig@example.com>")
	assert.Contains(t, text, "<root@example.com> <orig@example.com>")
}

func TestInjectTrackingPixel(t *testing.T) {
	pixelID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	out := InjectTrackingPixel("<html><body><p>hi</p></body></html>", "https://api.example.com/", pixelID)
	assert.Contains(t, out, `https://api.example.com/track/open/11111111-2222-3333-4444-555555555555`)
	// inserted before the closing body tag
	assert.Less(t, strings.Index(out, "track/open"), strings.Index(out, "</body>"))

	// markup without a body tag gets the pixel appended
	out = InjectTrackingPixel("<p>hi</p>", "https://api.example.com", pixelID)
	assert.True(t, strings.HasSuffix(out, `style="display:none">`))
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("example.com")
	assert.True(t, strings.HasSuffix(id, "@example.com"))
	assert.False(t, strings.ContainsAny(id, "<>"))
	assert.NotEqual(t, id, NewMessageID("example.com"))
}

func TestEnvelopeRecipients(t *testing.T) {
	out := EnvelopeRecipients([]db.Recipient{
		{Kind: "to", Email: "A@example.com"},
		{Kind: "cc", Email: "b@example.com"},
		{Kind: "bcc", Email: "c@example.com"},
		{Kind: "to", Email: "a@example.com"}, // duplicate
		{Kind: "to", Email: ""},
	})
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, out)
}
