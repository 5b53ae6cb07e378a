// Package imapsync reconciles mailboxes against the companion IMAP store,
// logging in through the master user so no per-user credential is needed.
package imapsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/crypto"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/helpers"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

// lookback bounds how far each run searches once a mailbox holds mail; the
// first sync of an empty mailbox replicates everything. Deduplication makes
// overlap between runs harmless.
const lookback = 48 * time.Hour

type Syncer struct {
	rdb     *db.Database
	cfg     *config.IMAPSyncConfig
	box     *crypto.SecretBox
	uploads string

	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[int64]bool // serializes per-user syncs
}

func New(rdb *db.Database, cfg *config.IMAPSyncConfig, box *crypto.SecretBox, uploadsPath string) *Syncer {
	max := cfg.MaxConnections
	if max <= 0 {
		max = 4
	}
	return &Syncer{
		rdb:     rdb,
		cfg:     cfg,
		box:     box,
		uploads: uploadsPath,
		sem:     semaphore.NewWeighted(max),
		running: map[int64]bool{},
	}
}

// masterLogin builds the impersonation login for a mailbox.
func masterLogin(email, masterUser string) string {
	return fmt.Sprintf("%s*%s", email, masterUser)
}

// SyncAll reconciles every user mailbox plus all active external accounts.
// Each mailbox syncs at most once concurrently; max_connections caps
// parallelism.
func (s *Syncer) SyncAll(ctx context.Context) {
	userIDs, err := s.rdb.ListUserIDs(ctx)
	if err != nil {
		logger.Error("imap sync: failed to list users", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, userID := range userIDs {
		if !s.claim(userID) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.release(userID)
			break
		}
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			defer s.sem.Release(1)
			defer s.release(userID)
			if err := s.syncUser(ctx, userID); err != nil {
				metrics.IMAPSyncRuns.WithLabelValues("error").Inc()
				logger.Warn("imap sync failed", "user_id", userID, "error", err)
				return
			}
			metrics.IMAPSyncRuns.WithLabelValues("ok").Inc()
		}(userID)
	}
	wg.Wait()

	s.syncExternalAccounts(ctx)
}

func (s *Syncer) claim(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[userID] {
		return false
	}
	s.running[userID] = true
	return true
}

func (s *Syncer) release(userID int64) {
	s.mu.Lock()
	delete(s.running, userID)
	s.mu.Unlock()
}

func (s *Syncer) syncUser(ctx context.Context, userID int64) error {
	user, err := s.rdb.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	login := masterLogin(user.Email, s.cfg.MasterUser)
	return s.syncMailbox(ctx, userID, s.cfg.Addr, s.cfg.TLS, login, s.cfg.MasterPassword)
}

func (s *Syncer) syncExternalAccounts(ctx context.Context) {
	accounts, err := s.rdb.ListActiveExternalAccounts(ctx)
	if err != nil {
		logger.Error("imap sync: failed to list external accounts", "error", err)
		return
	}
	for _, account := range accounts {
		password, err := s.box.Decrypt(account.PasswordEnc)
		if err != nil {
			logger.Error("imap sync: cannot decrypt external credential",
				"account_id", account.ID, "error", err)
			continue
		}
		addr := account.IMAPHost + ":" + strconv.Itoa(account.IMAPPort)
		if err := s.syncMailbox(ctx, account.UserID, addr, account.IMAPPort == 993,
			account.Username, password); err != nil {
			metrics.IMAPSyncRuns.WithLabelValues("error").Inc()
			logger.Warn("external account sync failed", "account_id", account.ID, "error", err)
			continue
		}
		metrics.IMAPSyncRuns.WithLabelValues("ok").Inc()
	}
}

// syncMailbox pulls recent INBOX messages and files whatever the store does
// not hold yet.
func (s *Syncer) syncMailbox(ctx context.Context, userID int64, addr string, useTLS bool, username, password string) error {
	var client *imapclient.Client
	var err error
	if useTLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Login(username, password).Wait(); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select INBOX failed: %w", err)
	}

	folder, err := s.rdb.GetFolderByRole(ctx, userID, consts.FolderInbox)
	if err != nil {
		return err
	}
	count, err := s.rdb.CountFolderEmails(ctx, folder.ID)
	if err != nil {
		return err
	}
	criteria := &imap.SearchCriteria{Since: time.Now().Add(-lookback)}
	if count == 0 {
		// nothing replicated yet, pull the whole mailbox
		criteria = &imap.SearchCriteria{}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)
	bodySection := &imap.FetchItemBodySection{}
	messages, err := client.Fetch(uidSet, &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}).Collect()
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	for _, msg := range messages {
		raw := msg.FindBodySection(bodySection)
		if len(raw) == 0 {
			continue
		}
		if err := s.storeMessage(ctx, userID, folder.ID, raw); err != nil {
			logger.Warn("imap sync: failed to store message", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (s *Syncer) storeMessage(ctx context.Context, userID, folderID int64, raw []byte) error {
	parsed, err := helpers.ParseMessage(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	messageID := helpers.DedupKey(parsed.MessageID, raw)

	var attachments []db.AttachmentInput
	for _, a := range parsed.Attachments {
		path, err := s.persistAttachment(a)
		if err != nil {
			return err
		}
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

	_, err = s.rdb.InsertEmail(ctx, &db.InsertEmailOptions{
		FolderID:       folderID,
		UserID:         userID,
		MessageID:      &messageID,
		InReplyTo:      optional(parsed.InReplyTo),
		References:     optional(parsed.References),
		Subject:        parsed.Subject,
		Sender:         parsed.Sender,
		Recipients:     recipients,
		BodyText:       parsed.BodyText,
		BodyHTML:       parsed.BodyHTML,
		ReceivedAt:     parsed.Date,
		DeliveryStatus: consts.DeliveryDelivered,
		Attachments:    attachments,
	})
	if errors.Is(err, consts.ErrMessageExists) {
		return nil
	}
	if err == nil {
		metrics.IMAPSyncMessages.Inc()
	}
	return err
}

// persistAttachment stores one part under <uploads>/attachments/<uuid><ext>.
func (s *Syncer) persistAttachment(a helpers.ParsedAttachment) (string, error) {
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
