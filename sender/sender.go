// Package sender assembles and submits outgoing mail, tracking each
// message through the delivery state machine.
package sender

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

// Publisher receives domain events emitted after successful sends. Wired
// after construction to avoid a dependency cycle with the event layer.
type Publisher interface {
	Publish(ctx context.Context, event string, userID *int64, data map[string]any)
}

type Sender struct {
	rdb     *db.Database
	smtp    *config.SMTPConfig
	app     *config.AppConfig
	uploads string
	timeout time.Duration
	Events  Publisher
}

func New(rdb *db.Database, cfg *config.Config) (*Sender, error) {
	timeout, err := cfg.SMTP.GetTimeout()
	if err != nil {
		return nil, err
	}
	return &Sender{
		rdb:     rdb,
		smtp:    &cfg.SMTP,
		app:     &cfg.App,
		uploads: cfg.Uploads.Path,
		timeout: timeout,
	}, nil
}

// ComposeOptions describes an outgoing message to persist and, unless
// scheduled, dispatch immediately.
type ComposeOptions struct {
	Recipients  []db.Recipient
	Subject     string
	BodyText    string
	BodyHTML    string
	InReplyTo   string
	References  string
	Track       bool
	ScheduledAt *time.Time
	Attachments []OutgoingAttachment
	IsDraft     bool
}

// Send persists the message into the user's sent folder (or drafts) and
// dispatches it unless a future send time was requested.
func (s *Sender) Send(ctx context.Context, user *db.User, opts *ComposeOptions) (int64, error) {
	role := consts.FolderSent
	if opts.IsDraft {
		role = consts.FolderDrafts
	}
	folder, err := s.rdb.GetFolderByRole(ctx, user.ID, role)
	if err != nil {
		return 0, err
	}

	var attachments []db.AttachmentInput
	var paths []string
	for _, a := range opts.Attachments {
		path, err := s.persistAttachment(a)
		if err != nil {
			return 0, err
		}
		paths = append(paths, path)
		attachments = append(attachments, db.AttachmentInput{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(len(a.Content)),
			FilePath:    path,
		})
	}

	emailID, err := s.rdb.InsertEmail(ctx, &db.InsertEmailOptions{
		FolderID:        folder.ID,
		UserID:          user.ID,
		MailboxAddress:  user.Email,
		InReplyTo:       optional(opts.InReplyTo),
		References:      optional(opts.References),
		Subject:         opts.Subject,
		Sender:          user.Email,
		Recipients:      opts.Recipients,
		BodyText:        opts.BodyText,
		BodyHTML:        opts.BodyHTML,
		IsRead:          true,
		IsDraft:         opts.IsDraft,
		IsTracked:       opts.Track,
		ScheduledSendAt: opts.ScheduledAt,
		Attachments:     attachments,
	})
	if err != nil {
		for _, p := range paths {
			os.Remove(p)
		}
		return 0, err
	}

	if opts.IsDraft || opts.ScheduledAt != nil {
		return emailID, nil
	}
	return emailID, s.Dispatch(ctx, user, emailID)
}

// Dispatch pushes a pending message through sending into sent, recording
// any failure on the row. Used for direct sends, scheduled sends and
// resends alike.
func (s *Sender) Dispatch(ctx context.Context, user *db.User, emailID int64) error {
	email, err := s.rdb.GetEmail(ctx, user.ID, emailID)
	if err != nil {
		return err
	}
	if err := s.rdb.AdvanceDeliveryStatus(ctx, emailID, consts.DeliverySending, nil); err != nil {
		return err
	}

	if err := s.dispatch(ctx, user, email); err != nil {
		detail := err.Error()
		if dberr := s.rdb.AdvanceDeliveryStatus(ctx, emailID, consts.DeliveryFailed, &detail); dberr != nil {
			logger.Error("failed to record delivery failure", "email_id", emailID, "error", dberr)
		}
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("delivery failed: %w", err)
	}
	metrics.MessagesSent.WithLabelValues("sent").Inc()

	if s.Events != nil {
		s.Events.Publish(ctx, consts.EventEmailSent, &user.ID, map[string]any{
			"email_id": emailID,
			"subject":  email.Subject,
		})
	}
	return nil
}

func (s *Sender) dispatch(ctx context.Context, user *db.User, email *db.Email) error {
	bodyHTML := email.BodyHTML
	if email.IsTracked && bodyHTML != "" {
		pixelID, err := s.rdb.CreateTrackingPixel(ctx, email.ID)
		if err != nil {
			return err
		}
		bodyHTML = InjectTrackingPixel(bodyHTML, s.app.APIBase, pixelID)
	}

	var attachments []OutgoingAttachment
	rows, err := s.rdb.ListAttachments(ctx, email.ID)
	if err != nil {
		return err
	}
	for _, a := range rows {
		content, err := os.ReadFile(a.FilePath)
		if err != nil {
			return fmt.Errorf("failed to read attachment %s: %w", a.Filename, err)
		}
		attachments = append(attachments, OutgoingAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     content,
		})
	}

	messageID := NewMessageID(helpers.Domain(user.Email))
	raw, err := Build(&OutgoingMessage{
		From:        user.Email,
		Recipients:  email.Recipients,
		Subject:     email.Subject,
		BodyText:    email.BodyText,
		BodyHTML:    bodyHTML,
		InReplyTo:   deref(email.InReplyTo),
		References:  deref(email.References),
		MessageID:   messageID,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	metrics.MessageSizeBytes.WithLabelValues("smtp").Observe(float64(len(raw)))

	envelopeFrom := s.smtp.EnvelopeSender
	if envelopeFrom == "" {
		envelopeFrom = user.Email
	}
	if err := s.Submit(ctx, envelopeFrom, EnvelopeRecipients(email.Recipients), raw); err != nil {
		return err
	}
	return s.rdb.MarkSent(ctx, email.ID, messageID)
}

// Submit hands the raw message to the configured smarthost.
func (s *Sender) Submit(ctx context.Context, from string, recipients []string, raw []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no envelope recipients")
	}
	addr := net.JoinHostPort(s.smtp.Host, strconv.Itoa(s.smtp.Port))

	var c *smtp.Client
	var err error
	if s.smtp.StartTLS {
		c, err = smtp.DialStartTLS(addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: s.smtp.Host,
		})
	} else {
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer c.Close()
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	if s.smtp.UseCredentials {
		auth := sasl.NewLoginClient(s.smtp.Username, s.smtp.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return c.Quit()
}

// SendSystem submits a service-originated message (verification codes,
// notifications) from the support address without a mailbox row.
func (s *Sender) SendSystem(ctx context.Context, to []string, subject, bodyText, bodyHTML string) error {
	from := s.app.SupportEmail
	if from == "" {
		from = "no-reply@" + s.app.MailDomain
	}
	var recipients []db.Recipient
	for _, addr := range to {
		recipients = append(recipients, db.Recipient{Kind: "to", Email: addr})
	}
	raw, err := Build(&OutgoingMessage{
		From:       from,
		FromName:   s.app.Name,
		Recipients: recipients,
		Subject:    subject,
		BodyText:   bodyText,
		BodyHTML:   bodyHTML,
		MessageID:  NewMessageID(s.app.MailDomain),
	})
	if err != nil {
		return err
	}
	envelopeFrom := s.smtp.EnvelopeSender
	if envelopeFrom == "" {
		envelopeFrom = from
	}
	return s.Submit(ctx, envelopeFrom, EnvelopeRecipients(recipients), raw)
}

// Resend puts a failed message back into pending and dispatches it again.
func (s *Sender) Resend(ctx context.Context, user *db.User, emailID int64) error {
	if err := s.rdb.ResetForResend(ctx, user.ID, emailID); err != nil {
		return err
	}
	return s.Dispatch(ctx, user, emailID)
}

// persistAttachment stores one part under <uploads>/attachments/<uuid><ext>.
func (s *Sender) persistAttachment(a OutgoingAttachment) (string, error) {
	dir := s.uploads
	if dir == "" {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "attachments")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, uuid.NewString()+filepath.Ext(a.Filename))
	if err := os.WriteFile(path, a.Content, 0o640); err != nil {
		return "", err
	}
	return path, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
