package sender

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/config"
)

// captureBackend records the envelope and payload of every delivery it
// accepts.
type captureBackend struct {
	mu   sync.Mutex
	from string
	rcpt []string
	data []byte
}

func (b *captureBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &captureSession{b: b}, nil
}

type captureSession struct {
	b *captureBackend
}

func (s *captureSession) Mail(from string, _ *smtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.rcpt = append(s.b.rcpt, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = raw
	return nil
}

func (s *captureSession) Reset() {}

func (s *captureSession) Logout() error { return nil }

func startCaptureServer(t *testing.T) (*captureBackend, int) {
	t.Helper()
	backend := &captureBackend{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := smtp.NewServer(backend)
	server.Domain = "localhost"
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	return backend, ln.Addr().(*net.TCPAddr).Port
}

func TestSubmit(t *testing.T) {
	backend, port := startCaptureServer(t)

	s := &Sender{
		smtp:    &config.SMTPConfig{Host: "127.0.0.1", Port: port},
		timeout: 5 * time.Second,
	}
	raw := []byte("Subject: hello\r\n\r\nbody\r\n")
	err := s.Submit(context.Background(), "alice@plume.test",
		[]string{"bob@ext.test", "carol@ext.test"}, raw)
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "alice@plume.test", backend.from)
	assert.Equal(t, []string{"bob@ext.test", "carol@ext.test"}, backend.rcpt)
	assert.Contains(t, string(backend.data), "Subject: hello")
	assert.Contains(t, string(backend.data), "body")
}

func TestSubmitNoRecipients(t *testing.T) {
	s := &Sender{smtp: &config.SMTPConfig{Host: "127.0.0.1", Port: 1}, timeout: time.Second}
	err := s.Submit(context.Background(), "alice@plume.test", nil, []byte("x"))
	assert.Error(t, err)
}

func TestPersistAttachment(t *testing.T) {
	dir := t.TempDir()
	s := &Sender{uploads: dir}

	path, err := s.persistAttachment(OutgoingAttachment{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4"),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "attachments"), filepath.Dir(path))
	assert.Equal(t, ".pdf", filepath.Ext(path))
	assert.False(t, strings.Contains(filepath.Base(path), "report"))
}
