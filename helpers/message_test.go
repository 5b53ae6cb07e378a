package helpers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMultipart = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>, carol@example.com\r\n" +
	"Cc: dave@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Message-ID: <abc123@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find the report attached.\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--outer--\r\n"

func TestParseMessageMultipart(t *testing.T) {
	parsed, err := ParseMessage(strings.NewReader(sampleMultipart))
	require.NoError(t, err)

	assert.Equal(t, "Quarterly report", parsed.Subject)
	assert.Equal(t, "abc123@example.com", parsed.MessageID)
	assert.Equal(t, "alice@example.com", parsed.Sender)
	assert.Equal(t, "Alice", parsed.SenderName)
	assert.Contains(t, parsed.BodyText, "report attached")
	assert.Empty(t, parsed.BodyHTML)

	require.Len(t, parsed.Recipients, 3)
	assert.Equal(t, "to", parsed.Recipients[0].Kind)
	assert.Equal(t, "bob@example.com", parsed.Recipients[0].Email)
	assert.Equal(t, "cc", parsed.Recipients[2].Kind)

	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "report.pdf", parsed.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", parsed.Attachments[0].ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), parsed.Attachments[0].Content)
}

func TestParseMessageInlineImage(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: chart\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/related; boundary=rel\r\n" +
		"\r\n" +
		"--rel\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>See <img src=\"cid:chart\"></p>\r\n" +
		"--rel\r\n" +
		"Content-Type: image/png; name=\"chart.png\"\r\n" +
		"Content-Disposition: inline; filename=\"chart.png\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"iVBORw0KGgo=\r\n" +
		"--rel--\r\n"

	parsed, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, parsed.BodyHTML, "cid:chart")

	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "chart.png", parsed.Attachments[0].Filename)
	assert.Equal(t, "image/png", parsed.Attachments[0].ContentType)
}

func TestParseMessageHTMLOnly(t *testing.T) {
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: hello\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Hello <b>Bob</b></p>\r\n"

	parsed, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, parsed.BodyHTML, "<b>Bob</b>")
	assert.Contains(t, parsed.BodyText, "Hello")
	assert.NotContains(t, parsed.BodyText, "<b>")
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "abc@x.com", DedupKey("<abc@x.com>", nil))
	assert.Equal(t, "abc@x.com", DedupKey("abc@x.com", nil))

	key := DedupKey("", []byte("raw message bytes"))
	assert.Len(t, key, 64)
	// stable for identical content
	assert.Equal(t, key, DedupKey("", []byte("raw message bytes")))
	assert.NotEqual(t, key, DedupKey("", []byte("other bytes")))
}

func TestSplitAddress(t *testing.T) {
	local, domain, err := SplitAddress("Alice@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice", local)
	assert.Equal(t, "example.com", domain)

	_, _, err = SplitAddress("not-an-address")
	assert.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress("Alice <ALICE@Example.com>")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", addr)

	_, err = NormalizeAddress("@@")
	assert.Error(t, err)
}
