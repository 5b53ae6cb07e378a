package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

// CreateVerificationCode stores a fresh code after invalidating any live
// codes for the same address and purpose, so at most one code is accepted
// at a time.
func (db *Database) CreateVerificationCode(ctx context.Context, email, code, purpose string, ttl time.Duration) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE verification_codes SET is_used = TRUE, used_at = now()
		WHERE email = LOWER($1) AND purpose = $2 AND NOT is_used
	`, email, purpose); err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO verification_codes (email, code, purpose, expires_at)
		VALUES (LOWER($1), $2, $3, now() + $4::interval)
	`, email, code, purpose, ttl.String()); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// ConsumeVerificationCode atomically validates and burns a code. A wrong,
// expired or already-used code returns ErrCodeInvalid; the same code can
// never succeed twice.
func (db *Database) ConsumeVerificationCode(ctx context.Context, email, code, purpose string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE verification_codes SET is_used = TRUE, used_at = now()
		WHERE email = LOWER($1) AND code = $2 AND purpose = $3
		  AND NOT is_used AND expires_at > now()
	`, email, code, purpose)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrCodeInvalid
	}
	return nil
}

// PurgeExpiredCodes removes dead verification codes, run by the cleanup task.
func (db *Database) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM verification_codes
		WHERE is_used OR expires_at < now() - interval '1 day'
	`)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// HasLiveCode reports whether an unexpired code exists for the address and
// purpose, without revealing the code.
func (db *Database) HasLiveCode(ctx context.Context, email, purpose string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM verification_codes
			WHERE email = LOWER($1) AND purpose = $2 AND NOT is_used AND expires_at > now()
		)
	`, email, purpose).Scan(&exists)
	if err != nil && !errors.Is(mapError(err), consts.ErrDBNotFound) {
		return false, mapError(err)
	}
	return exists, nil
}
