package lmtp

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/helpers"
)

func parse(t *testing.T, raw string) *helpers.ParsedMessage {
	t.Helper()
	parsed, err := helpers.ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

func TestExtractVerificationCode(t *testing.T) {
	msg := parse(t, "From: noreply@service.example\r\n"+
		"To: box@plume.example\r\n"+
		"Subject: Your verification code is 482913\r\n"+
		"Content-Type: text/plain\r\n\r\nUse it within 10 minutes.\r\n")
	assert.Equal(t, "482913", extractVerificationCode(msg))

	// body fallback when the subject has no code
	msg = parse(t, "From: noreply@service.example\r\n"+
		"To: box@plume.example\r\n"+
		"Subject: Confirm your signup\r\n"+
		"Content-Type: text/plain\r\n\r\nYour code: 7391\r\n")
	assert.Equal(t, "7391", extractVerificationCode(msg))

	msg = parse(t, "From: a@b.c\r\nTo: d@e.f\r\nSubject: hello\r\n"+
		"Content-Type: text/plain\r\n\r\nno digits here\r\n")
	assert.Equal(t, "", extractVerificationCode(msg))
}

func TestExtractVerificationCodeIgnoresShortNumbers(t *testing.T) {
	msg := parse(t, "From: a@b.c\r\nTo: d@e.f\r\nSubject: Meeting at 3\r\n"+
		"Content-Type: text/plain\r\n\r\nRoom 12\r\n")
	assert.Equal(t, "", extractVerificationCode(msg))
}

func TestPersistAttachment(t *testing.T) {
	dir := t.TempDir()
	s := &session{server: &LMTPServer{uploads: dir}}

	path, err := s.persistAttachment(helpers.ParsedAttachment{
		Filename:    "invoice.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4"),
	})
	require.NoError(t, err)

	// stored under a generated name, never the sender-supplied one
	assert.Equal(t, filepath.Join(dir, "attachments"), filepath.Dir(path))
	assert.Equal(t, ".pdf", filepath.Ext(path))
	assert.NotContains(t, filepath.Base(path), "invoice")
}

func TestLooksLikeSpam(t *testing.T) {
	assert.True(t, looksLikeSpam(&helpers.ParsedMessage{Subject: "***SPAM*** buy now"}))
	assert.True(t, looksLikeSpam(&helpers.ParsedMessage{Subject: "[SPAM] hello"}))
	assert.False(t, looksLikeSpam(&helpers.ParsedMessage{Subject: "weekly report"}))
}
