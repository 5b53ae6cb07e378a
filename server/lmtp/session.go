package lmtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

type backend struct {
	server *LMTPServer
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	metrics.ConnectionsTotal.WithLabelValues("lmtp").Inc()
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Inc()
	return &session{server: b.server}, nil
}

// recipient is one validated RCPT target: the owning user plus, when the
// address is a disposable one, the temp mailbox it came through.
type recipient struct {
	user    *db.User
	tempBox *db.TempMailbox
	address string
}

type session struct {
	server     *LMTPServer
	sender     string
	recipients []recipient
}

var (
	errUnknownMailbox = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message:      "No such mailbox here",
	}
	errMailboxDisabled = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 2, 1},
		Message:      "Mailbox disabled",
	}
	errTemporary = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary server error, try again later",
	}
)

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.sender = strings.ToLower(from)
	return nil
}

// Rcpt validates the recipient against real users first, then active
// disposable addresses.
func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	ctx, cancel := context.WithTimeout(s.server.appCtx, 10*time.Second)
	defer cancel()

	address, err := helpers.NormalizeAddress(to)
	if err != nil {
		return errUnknownMailbox
	}

	user, err := s.server.rdb.GetUserByEmail(ctx, address)
	if err == nil {
		s.recipients = append(s.recipients, recipient{user: user, address: address})
		return nil
	}
	if !errors.Is(err, consts.ErrUserNotFound) {
		logger.Error("recipient lookup failed", "to", address, "error", err)
		return errTemporary
	}

	box, err := s.server.rdb.GetActiveTempMailbox(ctx, address)
	if err != nil {
		if errors.Is(err, consts.ErrUserNotFound) {
			return errUnknownMailbox
		}
		logger.Error("temp mailbox lookup failed", "to", address, "error", err)
		return errTemporary
	}
	if !box.IsActive {
		return errMailboxDisabled
	}
	owner, err := s.server.rdb.GetUserByID(ctx, box.OwnerID)
	if err != nil {
		logger.Error("temp mailbox owner lookup failed", "to", address, "error", err)
		return errTemporary
	}
	s.recipients = append(s.recipients, recipient{user: owner, tempBox: box, address: address})
	return nil
}

func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &smtp.SMTPError{Code: 503, EnhancedCode: smtp.EnhancedCode{5, 5, 1}, Message: "No recipients"}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return errTemporary
	}
	metrics.MessageSizeBytes.WithLabelValues("lmtp").Observe(float64(len(raw)))

	// malformed input is accepted anyway: file what was extractable
	// rather than bouncing mail the MTA already took responsibility for
	parsed, err := helpers.ParseMessage(bytes.NewReader(raw))
	if err != nil {
		logger.Warn("accepting malformed message", "sender", s.sender, "error", err)
		metrics.MessagesDelivered.WithLabelValues("lmtp", "malformed").Inc()
		parsed = &helpers.ParsedMessage{
			Sender:   s.sender,
			BodyText: string(raw),
			Date:     time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(s.server.appCtx, 60*time.Second)
	defer cancel()

	// one failing mailbox must not hold up delivery to the others
	failed := 0
	for _, rcpt := range s.recipients {
		if err := s.deliver(ctx, rcpt, parsed, raw); err != nil {
			logger.Error("delivery failed", "to", rcpt.address, "error", err)
			metrics.MessagesDelivered.WithLabelValues("lmtp", "error").Inc()
			failed++
		}
	}
	if failed == len(s.recipients) {
		return errTemporary
	}
	return nil
}

// deliver files the message for one recipient: reputation checks, folder
// choice, at-most-once insert and event publication.
func (s *session) deliver(ctx context.Context, rcpt recipient, parsed *helpers.ParsedMessage, raw []byte) error {
	sender := parsed.Sender
	if sender == "" {
		sender = s.sender
	}

	blocked, err := s.server.spam.IsBlocked(ctx, rcpt.user.ID, sender)
	if err != nil {
		return err
	}
	if blocked {
		logger.Info("dropping message from blocked sender", "sender", sender, "to", rcpt.address)
		metrics.MessagesDelivered.WithLabelValues("lmtp", "blocked").Inc()
		return nil
	}

	folderRole := consts.FolderInbox
	trusted, err := s.server.spam.IsTrusted(ctx, rcpt.user.ID, sender)
	if err != nil {
		return err
	}
	if !trusted && looksLikeSpam(parsed) {
		folderRole = consts.FolderSpam
	}
	folder, err := s.server.rdb.GetFolderByRole(ctx, rcpt.user.ID, folderRole)
	if err != nil {
		return err
	}

	messageID := helpers.DedupKey(parsed.MessageID, raw)

	var attachments []db.AttachmentInput
	var paths []string
	for _, a := range parsed.Attachments {
		path, err := s.persistAttachment(a)
		if err != nil {
			for _, p := range paths {
				os.Remove(p)
			}
			return err
		}
		paths = append(paths, path)
		attachments = append(attachments, db.AttachmentInput{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(len(a.Content)),
			FilePath:    path,
		})
	}

	var recipients []db.Recipient
	for _, r := range parsed.Recipients {
		recipients = append(recipients, db.Recipient{Kind: r.Kind, Name: r.Name, Email: r.Email})
	}

	emailID, err := s.server.rdb.InsertEmail(ctx, &db.InsertEmailOptions{
		FolderID:       folder.ID,
		UserID:         rcpt.user.ID,
		MailboxAddress: rcpt.address,
		MessageID:      &messageID,
		InReplyTo:      optional(parsed.InReplyTo),
		References:     optional(parsed.References),
		Subject:        parsed.Subject,
		Sender:         sender,
		Recipients:     recipients,
		BodyText:       parsed.BodyText,
		BodyHTML:       parsed.BodyHTML,
		ReceivedAt:     parsed.Date,
		DeliveryStatus: consts.DeliveryDelivered,
		Attachments:    attachments,
	})
	if err != nil {
		if errors.Is(err, consts.ErrMessageExists) {
			// already ingested for this folder, not an error
			for _, p := range paths {
				os.Remove(p)
			}
			metrics.MessagesDelivered.WithLabelValues("lmtp", "duplicate").Inc()
			return nil
		}
		for _, p := range paths {
			os.Remove(p)
		}
		return err
	}
	metrics.MessagesDelivered.WithLabelValues("lmtp", "ok").Inc()

	if err := s.server.rdb.AddStorageUsed(ctx, rcpt.user.ID, int64(len(raw))); err != nil {
		logger.Error("failed to update storage accounting", "user_id", rcpt.user.ID, "error", err)
	}

	eventData := map[string]any{
		"email_id":        emailID,
		"sender":          sender,
		"subject":         parsed.Subject,
		"mailbox_address": rcpt.address,
		"folder_role":     folderRole,
	}
	s.server.bus.Publish(ctx, consts.EventEmailReceived, &rcpt.user.ID, eventData)

	if rcpt.tempBox != nil && rcpt.tempBox.AutoVerifyCodes {
		if code := extractVerificationCode(parsed); code != "" {
			s.server.bus.Publish(ctx, consts.EventVerificationCode, &rcpt.user.ID, map[string]any{
				"email_id":        emailID,
				"mailbox_address": rcpt.address,
				"code":            code,
				"sender":          sender,
			})
		}
	}

	s.server.hub.Notify(rcpt.user.ID, "email.received", map[string]any{
		"email_id": emailID,
		"folder":   folderRole,
		"sender":   sender,
		"subject":  parsed.Subject,
	})
	return nil
}

// persistAttachment stores one part under <uploads>/attachments/<uuid><ext>.
func (s *session) persistAttachment(a helpers.ParsedAttachment) (string, error) {
	dir := s.server.uploads
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

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Dec()
	return nil
}

var codeRe = regexp.MustCompile(`\b(\d{4,8})\b`)

// extractVerificationCode pulls the first plausible numeric code out of a
// message, subject first.
func extractVerificationCode(parsed *helpers.ParsedMessage) string {
	if m := codeRe.FindStringSubmatch(parsed.Subject); m != nil {
		return m[1]
	}
	if m := codeRe.FindStringSubmatch(parsed.BodyText); m != nil {
		return m[1]
	}
	return ""
}

// looksLikeSpam is the local heuristic applied when the upstream filter did
// not already classify the message. The X-Spam-Flag header set by the MTA
// chain is folded into the parsed subject by some filters; checking the
// subject prefix covers them.
func looksLikeSpam(parsed *helpers.ParsedMessage) bool {
	return strings.HasPrefix(parsed.Subject, "***SPAM***") ||
		strings.HasPrefix(parsed.Subject, "[SPAM]")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
