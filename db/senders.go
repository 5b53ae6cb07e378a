package db

import (
	"context"
	"strings"
	"time"

	"github.com/plumemail/plume/consts"
)

type SenderEntry struct {
	ID         int64
	UserID     int64
	Email      string
	SenderType string // email or domain
	CreatedAt  time.Time
}

func senderTable(blocked bool) string {
	if blocked {
		return "blocked_senders"
	}
	return "trusted_senders"
}

// AddSenderEntry stores a blocked or trusted sender. Entries starting with
// '@' match the whole domain.
func (db *Database) AddSenderEntry(ctx context.Context, userID int64, email string, blocked bool) (*SenderEntry, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	senderType := "email"
	if strings.HasPrefix(email, "@") {
		senderType = "domain"
	}
	var e SenderEntry
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO `+senderTable(blocked)+` (user_id, email, sender_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, email) DO UPDATE SET sender_type = EXCLUDED.sender_type
		RETURNING id, user_id, email, sender_type, created_at
	`, userID, email, senderType).Scan(&e.ID, &e.UserID, &e.Email, &e.SenderType, &e.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

// RemoveSenderEntry deletes a blocked or trusted sender entry.
func (db *Database) RemoveSenderEntry(ctx context.Context, userID int64, email string, blocked bool) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM `+senderTable(blocked)+` WHERE user_id = $1 AND email = LOWER($2)
	`, userID, email)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}

// ListSenderEntries lists a user's blocked or trusted senders.
func (db *Database) ListSenderEntries(ctx context.Context, userID int64, blocked bool) ([]*SenderEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, email, sender_type, created_at
		FROM `+senderTable(blocked)+`
		WHERE user_id = $1 ORDER BY email
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []*SenderEntry
	for rows.Next() {
		var e SenderEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.SenderType, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MatchSenderEntry reports whether the address matches an entry, either
// exactly or via its '@domain' form.
func (db *Database) MatchSenderEntry(ctx context.Context, userID int64, address string, blocked bool) (bool, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	domain := ""
	if i := strings.LastIndex(address, "@"); i >= 0 {
		domain = address[i:]
	}
	var matched bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM `+senderTable(blocked)+`
			WHERE user_id = $1 AND (email = $2 OR email = $3)
		)
	`, userID, address, domain).Scan(&matched)
	return matched, mapError(err)
}
