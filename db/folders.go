package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type Folder struct {
	ID        int64
	UserID    int64
	Name      string
	Role      string
	ParentID  *int64
	CreatedAt time.Time
}

const folderColumns = `id, user_id, name, role, parent_id, created_at`

func scanFolder(row interface{ Scan(...any) error }) (*Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Role, &f.ParentID, &f.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrFolderNotFound
		}
		return nil, mapError(err)
	}
	return &f, nil
}

// GetFolderByRole returns the user's single folder of a system role.
func (db *Database) GetFolderByRole(ctx context.Context, userID int64, role string) (*Folder, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE user_id = $1 AND role = $2`,
		userID, role)
	return scanFolder(row)
}

// GetFolderByID fetches a folder, scoped to its owner.
func (db *Database) GetFolderByID(ctx context.Context, userID, folderID int64) (*Folder, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM folders WHERE id = $1 AND user_id = $2`,
		folderID, userID)
	return scanFolder(row)
}

// ListFolders returns all folders of a user, system roles first.
func (db *Database) ListFolders(ctx context.Context, userID int64) ([]*Folder, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE user_id = $1
		ORDER BY CASE WHEN role = 'user' THEN 1 ELSE 0 END, id
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// CreateFolder adds a user folder (role is always 'user'; system folders are
// created with the account).
func (db *Database) CreateFolder(ctx context.Context, userID int64, name string, parentID *int64) (*Folder, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO folders (user_id, name, role, parent_id)
		VALUES ($1, $2, 'user', $3)
		RETURNING `+folderColumns+`
	`, userID, name, parentID)
	return scanFolder(row)
}

// DeleteFolder removes a user folder. System folders cannot be deleted.
func (db *Database) DeleteFolder(ctx context.Context, userID, folderID int64) error {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM folders WHERE id = $1 AND user_id = $2 AND role = 'user'
	`, folderID, userID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrFolderNotFound
	}
	return nil
}
