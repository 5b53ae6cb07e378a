package db

import (
	"context"
	"time"

	"github.com/plumemail/plume/consts"
)

// ExternalAccount is a remote IMAP account pollable on behalf of a user.
// PasswordEnc holds the symmetric-encrypted credential; decryption happens
// in the sync layer, never here.
type ExternalAccount struct {
	ID          int64
	UserID      int64
	Email       string
	IMAPHost    string
	IMAPPort    int
	Username    string
	PasswordEnc string
	IsActive    bool
	CreatedAt   time.Time
}

const extAccountColumns = `id, user_id, email, imap_host, imap_port, username, password_enc, is_active, created_at`

func scanExtAccount(row interface{ Scan(...any) error }) (*ExternalAccount, error) {
	var a ExternalAccount
	err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.IMAPHost, &a.IMAPPort,
		&a.Username, &a.PasswordEnc, &a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

// CreateExternalAccount stores a remote account with its encrypted password.
func (db *Database) CreateExternalAccount(ctx context.Context, a *ExternalAccount) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO external_accounts (user_id, email, imap_host, imap_port, username, password_enc)
		VALUES ($1, LOWER($2), $3, $4, $5, $6)
		RETURNING id
	`, a.UserID, a.Email, a.IMAPHost, a.IMAPPort, a.Username, a.PasswordEnc).Scan(&id)
	return id, mapError(err)
}

// ListActiveExternalAccounts returns every pollable account, for the syncer.
func (db *Database) ListActiveExternalAccounts(ctx context.Context) ([]*ExternalAccount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+extAccountColumns+` FROM external_accounts
		WHERE is_active ORDER BY user_id, id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accounts []*ExternalAccount
	for rows.Next() {
		a, err := scanExtAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListExternalAccounts lists a user's remote accounts.
func (db *Database) ListExternalAccounts(ctx context.Context, userID int64) ([]*ExternalAccount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+extAccountColumns+` FROM external_accounts
		WHERE user_id = $1 ORDER BY id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accounts []*ExternalAccount
	for rows.Next() {
		a, err := scanExtAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteExternalAccount removes a remote account.
func (db *Database) DeleteExternalAccount(ctx context.Context, userID, id int64) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM external_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}
