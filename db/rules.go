package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plumemail/plume/consts"
)

type AutomationRule struct {
	ID            int64
	OwnerID       *int64
	Name          string
	TriggerType   string
	TriggerConfig json.RawMessage
	Conditions    json.RawMessage
	Actions       json.RawMessage
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
}

const ruleColumns = `id, owner_id, name, trigger_type, trigger_config, conditions, actions, priority, is_active, created_at`

func scanRule(row interface{ Scan(...any) error }) (*AutomationRule, error) {
	var r AutomationRule
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.TriggerType, &r.TriggerConfig,
		&r.Conditions, &r.Actions, &r.Priority, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

// ListActiveRules returns active rules for a trigger ordered by descending
// priority, system rules (no owner) plus the given user's own.
func (db *Database) ListActiveRules(ctx context.Context, triggerType string, ownerID *int64) ([]*AutomationRule, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE trigger_type = $1 AND is_active
		  AND (owner_id IS NULL OR owner_id = $2)
		ORDER BY priority DESC, id
	`, triggerType, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rules []*AutomationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule fetches one rule by id.
func (db *Database) GetRule(ctx context.Context, id int64) (*AutomationRule, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	return scanRule(row)
}

// CreateRule stores an automation rule.
func (db *Database) CreateRule(ctx context.Context, r *AutomationRule) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO automation_rules (owner_id, name, trigger_type, trigger_config, conditions, actions, priority, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, r.OwnerID, r.Name, r.TriggerType, emptyJSON(r.TriggerConfig, "{}"),
		emptyJSON(r.Conditions, "[]"), emptyJSON(r.Actions, "[]"), r.Priority, r.IsActive).Scan(&id)
	return id, mapError(err)
}

// UpdateRule replaces a rule's definition.
func (db *Database) UpdateRule(ctx context.Context, r *AutomationRule) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE automation_rules
		SET name = $2, trigger_type = $3, trigger_config = $4, conditions = $5,
			actions = $6, priority = $7, is_active = $8
		WHERE id = $1
	`, r.ID, r.Name, r.TriggerType, emptyJSON(r.TriggerConfig, "{}"),
		emptyJSON(r.Conditions, "[]"), emptyJSON(r.Actions, "[]"), r.Priority, r.IsActive)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}

// DeleteRule removes a rule and its logs.
func (db *Database) DeleteRule(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrDBNotFound
	}
	return nil
}

type AutomationLog struct {
	ID              int64
	RuleID          int64
	Status          string // success, partial, failed
	ActionsExecuted int
	ExecutionTimeMS int64
	Error           *string
	CreatedAt       time.Time
}

// LogRuleRun records the outcome of one rule evaluation.
func (db *Database) LogRuleRun(ctx context.Context, l *AutomationLog) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO automation_logs (rule_id, status, actions_executed, execution_time_ms, error)
		VALUES ($1, $2, $3, $4, $5)
	`, l.RuleID, l.Status, l.ActionsExecuted, l.ExecutionTimeMS, l.Error)
	return mapError(err)
}

// ListRuleLogs returns recent runs of one rule, newest first.
func (db *Database) ListRuleLogs(ctx context.Context, ruleID int64, limit int) ([]*AutomationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, rule_id, status, actions_executed, execution_time_ms, error, created_at
		FROM automation_logs
		WHERE rule_id = $1 ORDER BY id DESC LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var logs []*AutomationLog
	for rows.Next() {
		var l AutomationLog
		if err := rows.Scan(&l.ID, &l.RuleID, &l.Status, &l.ActionsExecuted,
			&l.ExecutionTimeMS, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func emptyJSON(raw json.RawMessage, def string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(def)
	}
	return raw
}
