package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type Attachment struct {
	ID          int64
	EmailID     int64
	UserID      int64
	Filename    string
	ContentType string
	Size        int64
	FilePath    string
	CreatedAt   time.Time
}

const attachmentColumns = `id, email_id, user_id, filename, content_type, size, file_path, created_at`

func scanAttachment(row interface{ Scan(...any) error }) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.EmailID, &a.UserID, &a.Filename, &a.ContentType,
		&a.Size, &a.FilePath, &a.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrAttachmentNotFound
		}
		return nil, mapError(err)
	}
	return &a, nil
}

// GetAttachment fetches an attachment owned by the user.
func (db *Database) GetAttachment(ctx context.Context, userID, attachmentID int64) (*Attachment, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE id = $1 AND user_id = $2
	`, attachmentID, userID)
	return scanAttachment(row)
}

// ListAttachments lists the attachments of one email.
func (db *Database) ListAttachments(ctx context.Context, emailID int64) ([]*Attachment, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE email_id = $1 ORDER BY id
	`, emailID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var attachments []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
