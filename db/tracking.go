package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/plumemail/plume/consts"
)

type TrackingEvent struct {
	ID        int64
	PixelID   uuid.UUID
	EventType string
	Timestamp time.Time
	IP        string
	UserAgent string
}

// CreateTrackingPixel allocates a pixel for an outgoing tracked email.
func (db *Database) CreateTrackingPixel(ctx context.Context, emailID int64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tracking_pixels (id, email_id) VALUES ($1, $2)
	`, id, emailID)
	if err != nil {
		return uuid.Nil, mapError(err)
	}
	return id, nil
}

// RecordOpen stores an open event for a pixel and bumps the email's open
// counters. An unknown pixel returns ErrDBNotFound; callers must still reply
// with the pixel image so the URL reveals nothing.
func (db *Database) RecordOpen(ctx context.Context, pixelID uuid.UUID, ip, userAgent string) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var emailID int64
	err = tx.QueryRow(ctx,
		`SELECT email_id FROM tracking_pixels WHERE id = $1`, pixelID).Scan(&emailID)
	if err != nil {
		return mapError(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO tracking_events (pixel_id, event_type, ip, user_agent)
		VALUES ($1, 'opened', $2, $3)
	`, pixelID, ip, userAgent); err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE emails SET open_count = open_count + 1,
			first_opened_at = COALESCE(first_opened_at, now())
		WHERE id = $1
	`, emailID); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// TrackingStats summarizes opens for one email.
type TrackingStats struct {
	EmailID       int64
	OpenCount     int
	FirstOpenedAt *time.Time
	LastOpenedAt  *time.Time
	Events        []*TrackingEvent
}

// GetTrackingStats returns open statistics for an email owned by the user.
func (db *Database) GetTrackingStats(ctx context.Context, userID, emailID int64) (*TrackingStats, error) {
	stats := &TrackingStats{EmailID: emailID}
	err := db.Pool.QueryRow(ctx, `
		SELECT e.open_count, e.first_opened_at
		FROM emails e JOIN folders f ON e.folder_id = f.id
		WHERE e.id = $1 AND f.user_id = $2
	`, emailID, userID).Scan(&stats.OpenCount, &stats.FirstOpenedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrEmailNotFound
		}
		return nil, mapError(err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT ev.id, ev.pixel_id, ev.event_type, ev.ts, ev.ip, ev.user_agent
		FROM tracking_events ev
		JOIN tracking_pixels p ON ev.pixel_id = p.id
		WHERE p.email_id = $1
		ORDER BY ev.ts DESC
	`, emailID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev TrackingEvent
		if err := rows.Scan(&ev.ID, &ev.PixelID, &ev.EventType, &ev.Timestamp,
			&ev.IP, &ev.UserAgent); err != nil {
			return nil, err
		}
		stats.Events = append(stats.Events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stats.Events) > 0 {
		stats.LastOpenedAt = &stats.Events[0].Timestamp
	}
	return stats, nil
}
