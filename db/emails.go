package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plumemail/plume/consts"
)

// Recipient is one entry of an email's recipients_json column.
type Recipient struct {
	Kind  string `json:"kind"` // to, cc, bcc
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type Email struct {
	ID              int64
	FolderID        int64
	MailboxAddress  string
	MessageID       *string
	InReplyTo       *string
	References      *string
	ThreadID        *int64
	Subject         string
	Sender          string
	Recipients      []Recipient
	BodyText        string
	BodyHTML        string
	ReceivedAt      time.Time
	IsRead          bool
	IsStarred       bool
	IsDraft         bool
	SentAt          *time.Time
	ScheduledSendAt *time.Time
	SnoozedUntil    *time.Time
	IsTracked       bool
	OpenCount       int
	FirstOpenedAt   *time.Time
	DeliveryStatus  string
	DeliveryError   *string
	DeletedAt       *time.Time
	IsPurged        bool
	Tags            []string
}

const emailColumns = `id, folder_id, mailbox_address, message_id, in_reply_to, refs,
	thread_id, subject, sender, recipients_json, body_text, body_html, received_at,
	is_read, is_starred, is_draft, sent_at, scheduled_send_at, snoozed_until,
	is_tracked, open_count, first_opened_at, delivery_status, delivery_error,
	deleted_at, is_purged, tags`

func scanEmail(row interface{ Scan(...any) error }) (*Email, error) {
	var e Email
	err := row.Scan(&e.ID, &e.FolderID, &e.MailboxAddress, &e.MessageID, &e.InReplyTo,
		&e.References, &e.ThreadID, &e.Subject, &e.Sender, &e.Recipients, &e.BodyText,
		&e.BodyHTML, &e.ReceivedAt, &e.IsRead, &e.IsStarred, &e.IsDraft, &e.SentAt,
		&e.ScheduledSendAt, &e.SnoozedUntil, &e.IsTracked, &e.OpenCount, &e.FirstOpenedAt,
		&e.DeliveryStatus, &e.DeliveryError, &e.DeletedAt, &e.IsPurged, &e.Tags)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrEmailNotFound
		}
		return nil, mapError(err)
	}
	return &e, nil
}

// InsertEmailOptions carries everything needed to persist one inbound or
// outbound message together with its attachments.
type InsertEmailOptions struct {
	FolderID        int64
	UserID          int64
	MailboxAddress  string
	MessageID       *string
	InReplyTo       *string
	References      *string
	Subject         string
	Sender          string
	Recipients      []Recipient
	BodyText        string
	BodyHTML        string
	ReceivedAt      time.Time
	IsRead          bool
	IsDraft         bool
	IsTracked       bool
	DeliveryStatus  string
	ScheduledSendAt *time.Time
	Attachments     []AttachmentInput
}

// AttachmentInput is an attachment row created alongside the email.
type AttachmentInput struct {
	Filename    string
	ContentType string
	Size        int64
	FilePath    string
}

// InsertEmail persists the email and its attachments as one unit. If the
// folder already holds a message with the same Message-ID the insert returns
// ErrMessageExists and nothing is written.
func (db *Database) InsertEmail(ctx context.Context, opts *InsertEmailOptions) (int64, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	status := opts.DeliveryStatus
	if status == "" {
		status = consts.DeliveryPending
	}
	receivedAt := opts.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	recipients := opts.Recipients
	if recipients == nil {
		recipients = []Recipient{}
	}

	var emailID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO emails (folder_id, mailbox_address, message_id, in_reply_to, refs,
			subject, sender, recipients_json, body_text, body_html, received_at,
			is_read, is_draft, is_tracked, delivery_status, scheduled_send_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, opts.FolderID, opts.MailboxAddress, opts.MessageID, opts.InReplyTo, opts.References,
		opts.Subject, opts.Sender, recipients, opts.BodyText, opts.BodyHTML, receivedAt,
		opts.IsRead, opts.IsDraft, opts.IsTracked, status, opts.ScheduledSendAt).Scan(&emailID)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBUniqueViolation) {
			return 0, consts.ErrMessageExists
		}
		return 0, mapError(err)
	}

	for _, a := range opts.Attachments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments (email_id, user_id, filename, content_type, size, file_path)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, emailID, opts.UserID, a.Filename, a.ContentType, a.Size, a.FilePath); err != nil {
			return 0, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return emailID, nil
}

// HasMessageID reports whether the folder already holds a message with this
// Message-ID. Used as a cheap pre-check; the unique index is authoritative.
func (db *Database) HasMessageID(ctx context.Context, folderID int64, messageID string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM emails WHERE folder_id = $1 AND message_id = $2)
	`, folderID, messageID).Scan(&exists)
	return exists, mapError(err)
}

// CountFolderEmails reports how many messages a folder holds, hidden ones
// included.
func (db *Database) CountFolderEmails(ctx context.Context, folderID int64) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM emails WHERE folder_id = $1`, folderID).Scan(&n)
	return n, mapError(err)
}

// GetEmail fetches an email, verifying ownership via the folder.
func (db *Database) GetEmail(ctx context.Context, userID, emailID int64) (*Email, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+prefixed("e", emailColumns)+`
		FROM emails e JOIN folders f ON e.folder_id = f.id
		WHERE e.id = $1 AND f.user_id = $2
	`, emailID, userID)
	return scanEmail(row)
}

// ListEmailsOptions filters a folder listing.
type ListEmailsOptions struct {
	FolderID  int64
	Page      int
	Limit     int
	IsRead    *bool
	IsStarred *bool
	Mailbox   string // filter by mailbox_address (temp mailboxes)
}

// ListEmails lists a folder's messages, newest first. Purged messages are
// never returned, and snoozed messages stay hidden until their snooze
// expires.
func (db *Database) ListEmails(ctx context.Context, opts ListEmailsOptions) ([]*Email, int, error) {
	where := `e.folder_id = $1 AND NOT e.is_purged
		AND (e.snoozed_until IS NULL OR e.snoozed_until <= now())`
	args := []any{opts.FolderID}
	if opts.IsRead != nil {
		args = append(args, *opts.IsRead)
		where += fmt.Sprintf(" AND e.is_read = $%d", len(args))
	}
	if opts.IsStarred != nil {
		args = append(args, *opts.IsStarred)
		where += fmt.Sprintf(" AND e.is_starred = $%d", len(args))
	}
	if opts.Mailbox != "" {
		args = append(args, opts.Mailbox)
		where += fmt.Sprintf(" AND e.mailbox_address = $%d", len(args))
	}

	var total int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM emails e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`
		SELECT `+prefixed("e", emailColumns)+`
		FROM emails e WHERE `+where+`
		ORDER BY e.received_at DESC, e.id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, 0, err
		}
		emails = append(emails, e)
	}
	return emails, total, rows.Err()
}

// SearchEmails runs a full-text query over subject, sender and bodies via
// the maintained search vector. Trash and purged messages are excluded.
func (db *Database) SearchEmails(ctx context.Context, userID int64, query string, limit int) ([]*Email, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+prefixed("e", emailColumns)+`
		FROM emails e JOIN folders f ON e.folder_id = f.id
		WHERE f.user_id = $1 AND f.role <> 'trash' AND NOT e.is_purged
		  AND e.search_vector @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(e.search_vector, plainto_tsquery('simple', $2)) DESC, e.id DESC
		LIMIT $3
	`, userID, query, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// SetRead, SetStarred, Snooze and MoveToFolder mutate listing state. All of
// them verify ownership through the folder join.

func (db *Database) SetRead(ctx context.Context, userID, emailID int64, read bool) error {
	return db.updateOwned(ctx, "set_read", userID, emailID,
		`is_read = $3`, read)
}

func (db *Database) SetStarred(ctx context.Context, userID, emailID int64, starred bool) error {
	return db.updateOwned(ctx, "set_starred", userID, emailID,
		`is_starred = $3`, starred)
}

func (db *Database) Snooze(ctx context.Context, userID, emailID int64, until *time.Time) error {
	return db.updateOwned(ctx, "snooze", userID, emailID,
		`snoozed_until = $3`, until)
}

// MoveToFolder moves the email into another folder of the same user.
func (db *Database) MoveToFolder(ctx context.Context, userID, emailID, folderID int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE emails e SET folder_id = $3
		FROM folders src, folders dst
		WHERE e.id = $1 AND e.folder_id = src.id AND src.user_id = $2
		  AND dst.id = $3 AND dst.user_id = $2
	`, emailID, userID, folderID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrEmailNotFound
	}
	return nil
}

// AddTag attaches a tag to an email if it is not already present.
func (db *Database) AddTag(ctx context.Context, userID, emailID int64, tag string) error {
	return db.updateOwned(ctx, "add_tag", userID, emailID,
		`tags = CASE WHEN $3::text = ANY(e.tags) THEN e.tags
			ELSE array_append(e.tags, $3::text) END`, tag)
}

// RemoveTag detaches a tag; removing an absent tag is a no-op.
func (db *Database) RemoveTag(ctx context.Context, userID, emailID int64, tag string) error {
	return db.updateOwned(ctx, "remove_tag", userID, emailID,
		`tags = array_remove(e.tags, $3::text)`, tag)
}

// Archive moves an email into the archive folder.
func (db *Database) Archive(ctx context.Context, userID, emailID int64) error {
	archive, err := db.GetFolderByRole(ctx, userID, consts.FolderArchive)
	if err != nil {
		return err
	}
	return db.updateOwned(ctx, "archive", userID, emailID, `folder_id = $3`, archive.ID)
}

// Trash moves an email to the trash folder and stamps deleted_at.
func (db *Database) Trash(ctx context.Context, userID, emailID int64) error {
	trash, err := db.GetFolderByRole(ctx, userID, consts.FolderTrash)
	if err != nil {
		return err
	}
	return db.updateOwned(ctx, "trash", userID, emailID,
		`folder_id = $3, deleted_at = now()`, trash.ID)
}

// Purge marks an email purged; it disappears from every listing but the row
// is retained for audit until the trash sweeper removes it.
func (db *Database) Purge(ctx context.Context, userID, emailID int64) error {
	return db.updateOwned(ctx, "purge", userID, emailID, `is_purged = TRUE`)
}

func (db *Database) updateOwned(ctx context.Context, operation string, userID, emailID int64, set string, extra ...any) error {
	start := time.Now()
	args := append([]any{emailID, userID}, extra...)
	tag, err := db.Pool.Exec(ctx, `
		UPDATE emails e SET `+set+`
		FROM folders f
		WHERE e.id = $1 AND e.folder_id = f.id AND f.user_id = $2
	`, args...)
	observe(operation, start, err)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrEmailNotFound
	}
	return nil
}

// deliveryTransitions encodes M3: pending→sending→sent→delivered, and any
// non-terminal state may fail.
var deliveryTransitions = map[string][]string{
	consts.DeliveryPending: {consts.DeliverySending, consts.DeliveryFailed},
	consts.DeliverySending: {consts.DeliverySent, consts.DeliveryFailed},
	consts.DeliverySent:    {consts.DeliveryDelivered, consts.DeliveryFailed},
}

func deliveryTransitionAllowed(from, to string) bool {
	for _, t := range deliveryTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AdvanceDeliveryStatus moves an email along the delivery state machine.
// Illegal transitions return ErrInvalidState and leave the row untouched.
func (db *Database) AdvanceDeliveryStatus(ctx context.Context, emailID int64, to string, deliveryError *string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var from string
	if err := tx.QueryRow(ctx,
		`SELECT delivery_status FROM emails WHERE id = $1 FOR UPDATE`, emailID).Scan(&from); err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return consts.ErrEmailNotFound
		}
		return mapError(err)
	}
	if !deliveryTransitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", consts.ErrInvalidState, from, to)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE emails SET delivery_status = $2, delivery_error = $3 WHERE id = $1
	`, emailID, to, deliveryError); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// MarkSent records the generated Message-ID (already stripped of angle
// brackets) and the send timestamp while advancing sending→sent.
func (db *Database) MarkSent(ctx context.Context, emailID int64, messageID string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE emails SET delivery_status = 'sent', delivery_error = NULL,
			message_id = $2, sent_at = now()
		WHERE id = $1 AND delivery_status = 'sending'
	`, emailID, messageID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrInvalidState
	}
	return nil
}

// ResetForResend re-enters the pending state. Valid only from failed or
// pending; it clears the previous delivery error.
func (db *Database) ResetForResend(ctx context.Context, userID, emailID int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE emails e SET delivery_status = 'pending', delivery_error = NULL
		FROM folders f
		WHERE e.id = $1 AND e.folder_id = f.id AND f.user_id = $2
		  AND e.delivery_status IN ('failed', 'pending')
	`, emailID, userID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrInvalidState
	}
	return nil
}

// GetEmailOwner resolves the user owning an email through its folder.
func (db *Database) GetEmailOwner(ctx context.Context, emailID int64) (int64, error) {
	var userID int64
	err := db.Pool.QueryRow(ctx, `
		SELECT f.user_id FROM emails e JOIN folders f ON e.folder_id = f.id
		WHERE e.id = $1
	`, emailID).Scan(&userID)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return 0, consts.ErrEmailNotFound
		}
		return 0, mapError(err)
	}
	return userID, nil
}

// ListDueScheduled returns emails whose scheduled send time has arrived and
// which have not been dispatched yet.
func (db *Database) ListDueScheduled(ctx context.Context, limit int) ([]*Email, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+emailColumns+` FROM emails
		WHERE scheduled_send_at <= now() AND delivery_status = 'pending' AND sent_at IS NULL
		ORDER BY scheduled_send_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var emails []*Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// SurfaceDueSnoozed clears expired snoozes and returns the surfaced emails
// together with their owners so callers can notify.
func (db *Database) SurfaceDueSnoozed(ctx context.Context) (map[int64][]int64, error) {
	rows, err := db.Pool.Query(ctx, `
		UPDATE emails e SET snoozed_until = NULL
		FROM folders f
		WHERE e.folder_id = f.id AND e.snoozed_until <= now()
		RETURNING f.user_id, e.id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	surfaced := make(map[int64][]int64)
	for rows.Next() {
		var userID, emailID int64
		if err := rows.Scan(&userID, &emailID); err != nil {
			return nil, err
		}
		surfaced[userID] = append(surfaced[userID], emailID)
	}
	return surfaced, rows.Err()
}

// SweepTrash hard-deletes trashed messages older than the retention window
// for users that enabled auto_clean_trash.
func (db *Database) SweepTrash(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM emails e
		USING folders f, users u
		WHERE e.folder_id = f.id AND f.role = 'trash' AND f.user_id = u.id
		  AND COALESCE((u.preferences->>'auto_clean_trash')::boolean, FALSE)
		  AND COALESCE(e.deleted_at, e.received_at) < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// SweepArchive moves old read inbox mail into the archive folder for users
// that enabled auto_archive_old.
func (db *Database) SweepArchive(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE emails e SET folder_id = arch.id
		FROM folders inbox
		JOIN users u ON inbox.user_id = u.id
		JOIN folders arch ON arch.user_id = u.id AND arch.role = 'archive'
		WHERE e.folder_id = inbox.id AND inbox.role = 'inbox'
		  AND COALESCE((u.preferences->>'auto_archive_old')::boolean, FALSE)
		  AND e.is_read AND e.received_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	out := ""
	for i, c := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(columns string) []string {
	var out []string
	field := ""
	for _, r := range columns {
		switch r {
		case ',':
			out = append(out, field)
			field = ""
		case ' ', '\n', '\t':
		default:
			field += string(r)
		}
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
