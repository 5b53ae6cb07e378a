package db

import (
	"context"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type EmailTemplate struct {
	ID        int64
	Code      string
	Category  string
	Subject   string
	BodyHTML  string
	BodyText  string
	Variables []string
	IsActive  bool
	UpdatedAt time.Time
}

const templateColumns = `id, code, category, subject, body_html, body_text, variables, is_active, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*EmailTemplate, error) {
	var t EmailTemplate
	err := row.Scan(&t.ID, &t.Code, &t.Category, &t.Subject, &t.BodyHTML, &t.BodyText,
		&t.Variables, &t.IsActive, &t.UpdatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrTemplateNotFound
		}
		return nil, mapError(err)
	}
	return &t, nil
}

// GetTemplateByCode returns an active system template.
func (db *Database) GetTemplateByCode(ctx context.Context, code string) (*EmailTemplate, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM system_email_templates
		WHERE code = $1 AND is_active
	`, code)
	return scanTemplate(row)
}

// ListTemplates lists all system templates, optionally filtered by category.
func (db *Database) ListTemplates(ctx context.Context, category string) ([]*EmailTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM system_email_templates`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY code`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var templates []*EmailTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpsertTemplate creates or replaces a system template by code.
func (db *Database) UpsertTemplate(ctx context.Context, t *EmailTemplate) (*EmailTemplate, error) {
	variables := t.Variables
	if variables == nil {
		variables = []string{}
	}
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO system_email_templates (code, category, subject, body_html, body_text, variables, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			category = EXCLUDED.category,
			subject = EXCLUDED.subject,
			body_html = EXCLUDED.body_html,
			body_text = EXCLUDED.body_text,
			variables = EXCLUDED.variables,
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING `+templateColumns+`
	`, t.Code, t.Category, t.Subject, t.BodyHTML, t.BodyText, variables, t.IsActive)
	return scanTemplate(row)
}

// DeleteTemplate removes a system template.
func (db *Database) DeleteTemplate(ctx context.Context, code string) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM system_email_templates WHERE code = $1`, code)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrTemplateNotFound
	}
	return nil
}

type GlobalVariable struct {
	ID          int64
	Name        string
	ValueKind   string // static, config, dynamic
	Value       string
	Description string
	UpdatedAt   time.Time
}

// ListGlobalVariables returns every defined global template variable.
func (db *Database) ListGlobalVariables(ctx context.Context) ([]*GlobalVariable, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, value_kind, value, description, updated_at
		FROM global_variables ORDER BY name
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var vars []*GlobalVariable
	for rows.Next() {
		var v GlobalVariable
		if err := rows.Scan(&v.ID, &v.Name, &v.ValueKind, &v.Value, &v.Description, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, &v)
	}
	return vars, rows.Err()
}

// UpsertGlobalVariable creates or updates a global template variable by name.
func (db *Database) UpsertGlobalVariable(ctx context.Context, v *GlobalVariable) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO global_variables (name, value_kind, value, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			value_kind = EXCLUDED.value_kind,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			updated_at = now()
	`, v.Name, v.ValueKind, v.Value, v.Description)
	return mapError(err)
}

// DeleteGlobalVariable removes a global template variable.
func (db *Database) DeleteGlobalVariable(ctx context.Context, name string) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM global_variables WHERE name = $1`, name)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}
