package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

// User is a mail service account.
type User struct {
	ID               int64
	Email            string
	PasswordHash     string
	Role             string
	StorageUsed      int64
	PoolEnabled      bool
	TwoFactorEnabled bool
	TOTPSecret       *string
	Preferences      map[string]any
	CreatedAt        time.Time
}

// CreateUser inserts a user together with its system folders in one
// transaction so every account has one folder of each system role from the
// moment the account exists.
func (db *Database) CreateUser(ctx context.Context, email, passwordHash, role string) (*User, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	user := &User{PasswordHash: passwordHash, Role: role}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, created_at
	`, email, passwordHash, role).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBUniqueViolation) {
			return nil, consts.ErrUserExists
		}
		return nil, mapError(err)
	}

	for _, f := range consts.SystemFolders {
		if _, err := tx.Exec(ctx, `
			INSERT INTO folders (user_id, name, role) VALUES ($1, $2, $3)
		`, user.ID, f.Name, f.Role); err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

const userColumns = `id, email, password_hash, role, storage_used, pool_enabled,
	two_factor_enabled, totp_secret, preferences, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.StorageUsed,
		&u.PoolEnabled, &u.TwoFactorEnabled, &u.TOTPSecret, &u.Preferences, &u.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrUserNotFound
		}
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByEmail looks a user up by address, case-insensitively.
func (db *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key.
func (db *Database) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// ListUserIDs returns all user ids, used by the IMAP sync scheduler.
func (db *Database) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateUserPreferences replaces the preferences blob.
func (db *Database) UpdateUserPreferences(ctx context.Context, userID int64, prefs map[string]any) error {
	return db.timedExec(ctx, "update_preferences",
		`UPDATE users SET preferences = $2 WHERE id = $1`, userID, prefs)
}

// UpdateUserPassword replaces the stored password hash.
func (db *Database) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	return db.timedExec(ctx, "update_password",
		`UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
}

// SetTwoFactor enables or disables TOTP for a user. The secret is stored
// only while 2FA is enabled.
func (db *Database) SetTwoFactor(ctx context.Context, userID int64, enabled bool, secret *string) error {
	return db.timedExec(ctx, "set_two_factor",
		`UPDATE users SET two_factor_enabled = $2, totp_secret = $3 WHERE id = $1`,
		userID, enabled, secret)
}

// AddStorageUsed adjusts the user's storage accounting by delta bytes.
func (db *Database) AddStorageUsed(ctx context.Context, userID int64, delta int64) error {
	return db.timedExec(ctx, "add_storage_used",
		`UPDATE users SET storage_used = GREATEST(storage_used + $2, 0) WHERE id = $1`,
		userID, delta)
}
