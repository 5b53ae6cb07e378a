package db

import (
	"context"
	"time"
)

type SpamReport struct {
	ID         int64
	EmailID    int64
	UserID     int64
	ReportType string // spam or ham
	Learned    bool
	CreatedAt  time.Time
}

// CreateSpamReport records a user's spam or ham report for later learning.
func (db *Database) CreateSpamReport(ctx context.Context, emailID, userID int64, reportType string) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO spam_reports (email_id, user_id, report_type)
		VALUES ($1, $2, $3)
		RETURNING id
	`, emailID, userID, reportType).Scan(&id)
	return id, mapError(err)
}

// MarkReportLearned flags a report after the filter daemon accepted it.
func (db *Database) MarkReportLearned(ctx context.Context, reportID int64) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE spam_reports SET learned = TRUE WHERE id = $1`, reportID)
	return mapError(err)
}
