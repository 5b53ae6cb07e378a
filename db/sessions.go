package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type Session struct {
	ID           int64
	UserID       int64
	TokenHash    string
	DeviceInfo   string
	IP           string
	IsActive     bool
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// CreateSession records a refresh-token session. The raw token is never
// stored; callers pass its hash from HashToken.
func (db *Database) CreateSession(ctx context.Context, userID int64, tokenHash, deviceInfo, ip string) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO user_sessions (user_id, token_hash, device_info, ip)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, tokenHash, deviceInfo, ip).Scan(&id)
	return id, mapError(err)
}

// GetSessionByTokenHash returns the active session matching the hash, if any.
func (db *Database) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	var s Session
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, device_info, ip, is_active, created_at, last_active_at
		FROM user_sessions
		WHERE token_hash = $1 AND is_active
	`, tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.DeviceInfo, &s.IP,
		&s.IsActive, &s.CreatedAt, &s.LastActiveAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrSessionNotFound
		}
		return nil, mapError(err)
	}
	return &s, nil
}

// TouchSession refreshes last_active_at, typically on token refresh.
func (db *Database) TouchSession(ctx context.Context, sessionID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE user_sessions SET last_active_at = now() WHERE id = $1`, sessionID)
	return mapError(err)
}

// RevokeSession deactivates one session (logout).
func (db *Database) RevokeSession(ctx context.Context, userID int64, tokenHash string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE
		WHERE user_id = $1 AND token_hash = $2
	`, userID, tokenHash)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrSessionNotFound
	}
	return nil
}

// RevokeUserSessions deactivates every session of a user (password change).
func (db *Database) RevokeUserSessions(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1`, userID)
	return mapError(err)
}

// DeleteIdleSessions removes sessions idle for longer than maxIdle. Run by
// the session cleanup task.
func (db *Database) DeleteIdleSessions(ctx context.Context, maxIdle time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM user_sessions
		WHERE last_active_at < now() - $1::interval
	`, maxIdle.String())
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
