package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type TempMailbox struct {
	ID              int64
	OwnerID         int64
	Email           string
	Purpose         string
	AutoVerifyCodes bool
	IsActive        bool
	CreatedAt       time.Time
}

const tempMailboxColumns = `id, owner_id, email, purpose, auto_verify_codes, is_active, created_at`

func scanTempMailbox(row interface{ Scan(...any) error }) (*TempMailbox, error) {
	var m TempMailbox
	err := row.Scan(&m.ID, &m.OwnerID, &m.Email, &m.Purpose, &m.AutoVerifyCodes,
		&m.IsActive, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &m, nil
}

// CreateTempMailbox registers a disposable address that delivers into the
// owner's inbox.
func (db *Database) CreateTempMailbox(ctx context.Context, ownerID int64, email, purpose string, autoVerify bool) (*TempMailbox, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO temp_mailboxes (owner_id, email, purpose, auto_verify_codes)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING `+tempMailboxColumns+`
	`, ownerID, email, purpose, autoVerify)
	m, err := scanTempMailbox(row)
	if err != nil && errors.Is(err, consts.ErrDBUniqueViolation) {
		return nil, consts.ErrUserExists
	}
	return m, err
}

// GetActiveTempMailbox resolves an active disposable address, for LMTP RCPT.
func (db *Database) GetActiveTempMailbox(ctx context.Context, email string) (*TempMailbox, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+tempMailboxColumns+` FROM temp_mailboxes
		WHERE email = LOWER($1) AND is_active
	`, email)
	m, err := scanTempMailbox(row)
	if err != nil && errors.Is(err, consts.ErrDBNotFound) {
		return nil, consts.ErrUserNotFound
	}
	return m, err
}

// ListTempMailboxes lists a user's disposable addresses.
func (db *Database) ListTempMailboxes(ctx context.Context, ownerID int64) ([]*TempMailbox, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+tempMailboxColumns+` FROM temp_mailboxes
		WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var boxes []*TempMailbox
	for rows.Next() {
		m, err := scanTempMailbox(rows)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, m)
	}
	return boxes, rows.Err()
}

// SetTempMailboxActive toggles a disposable address. Deactivated addresses
// bounce at RCPT time.
func (db *Database) SetTempMailboxActive(ctx context.Context, ownerID, id int64, active bool) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE temp_mailboxes SET is_active = $3
		WHERE id = $1 AND owner_id = $2
	`, id, ownerID, active)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}

// DeleteTempMailbox removes a disposable address permanently.
func (db *Database) DeleteTempMailbox(ctx context.Context, ownerID, id int64) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM temp_mailboxes WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}
