// Package rules evaluates flat automation rules: ordered condition lists
// with AND/OR matching and a sequence of mailbox actions.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
	"github.com/plumemail/plume/workflow"
)

// Condition compares one field of the trigger payload. It shares its shape
// and operators with workflow condition nodes.
type Condition = workflow.Clause

// ConditionSet is the stored conditions document. A bare JSON array is
// accepted and treated as match-all.
type ConditionSet struct {
	Match string      `json:"match"` // all or any
	Items []Condition `json:"items"`
}

func (s *ConditionSet) UnmarshalJSON(data []byte) error {
	var items []Condition
	if err := json.Unmarshal(data, &items); err == nil {
		s.Match = "all"
		s.Items = items
		return nil
	}
	type alias ConditionSet
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = ConditionSet(a)
	if s.Match == "" {
		s.Match = "all"
	}
	return nil
}

// Action is one step of a rule's action list.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Engine matches and runs automation rules for domain events.
type Engine struct {
	rdb *db.Database
	wf  *workflow.Engine
}

func New(rdb *db.Database, wf *workflow.Engine) *Engine {
	return &Engine{rdb: rdb, wf: wf}
}

// MatchAndRun evaluates every active rule bound to the trigger, in priority
// order. Each rule run is logged; a failing rule never blocks the next one.
func (e *Engine) MatchAndRun(ctx context.Context, triggerType string, userID *int64, data map[string]any) {
	rules, err := e.rdb.ListActiveRules(ctx, triggerType, userID)
	if err != nil {
		logger.Error("failed to load automation rules", "trigger", triggerType, "error", err)
		return
	}
	for _, rule := range rules {
		e.runRule(ctx, rule, userID, data)
	}
}

func (e *Engine) runRule(ctx context.Context, rule *db.AutomationRule, userID *int64, data map[string]any) {
	var conditions ConditionSet
	if len(rule.Conditions) > 0 {
		if err := json.Unmarshal(rule.Conditions, &conditions); err != nil {
			logger.Warn("rule has malformed conditions", "rule_id", rule.ID, "error", err)
			return
		}
	}
	if !Matches(&conditions, data) {
		return
	}

	var actions []Action
	if len(rule.Actions) > 0 {
		if err := json.Unmarshal(rule.Actions, &actions); err != nil {
			logger.Warn("rule has malformed actions", "rule_id", rule.ID, "error", err)
			return
		}
	}

	start := time.Now()
	executed := 0
	var firstErr error
	for _, action := range actions {
		if err := e.runAction(ctx, action, userID, data); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("rule action failed", "rule_id", rule.ID, "action", action.Type, "error", err)
			continue
		}
		executed++
	}

	status := "success"
	var errText *string
	if firstErr != nil {
		detail := firstErr.Error()
		errText = &detail
		if executed > 0 {
			status = "partial"
		} else {
			status = "failed"
		}
	}
	metrics.RuleRunsTotal.WithLabelValues(status).Inc()
	if err := e.rdb.LogRuleRun(ctx, &db.AutomationLog{
		RuleID:          rule.ID,
		Status:          status,
		ActionsExecuted: executed,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		Error:           errText,
	}); err != nil {
		logger.Error("failed to log rule run", "rule_id", rule.ID, "error", err)
	}
}

// Matches applies a condition set against the trigger payload. An empty set
// always matches.
func Matches(set *ConditionSet, data map[string]any) bool {
	return workflow.MatchClauses(set.Match, set.Items, func(field string) any {
		return lookupField(data, field)
	})
}

func lookupField(data map[string]any, field string) any {
	current := any(data)
	for {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		dot := -1
		for i, r := range field {
			if r == '.' {
				dot = i
				break
			}
		}
		if dot < 0 {
			return m[field]
		}
		current = m[field[:dot]]
		field = field[dot+1:]
	}
}

func (e *Engine) runAction(ctx context.Context, action Action, userID *int64, data map[string]any) error {
	emailID, hasEmail := asInt64(fieldOr(action.Params, data, "email_id"))
	uid := int64(0)
	if userID != nil {
		uid = *userID
	} else if v, ok := asInt64(data["user_id"]); ok {
		uid = v
	}

	switch action.Type {
	case "mark_read":
		if !hasEmail {
			return fmt.Errorf("mark_read: no email in scope")
		}
		return e.rdb.SetRead(ctx, uid, emailID, true)
	case "star":
		if !hasEmail {
			return fmt.Errorf("star: no email in scope")
		}
		return e.rdb.SetStarred(ctx, uid, emailID, true)
	case "move_to_folder":
		if !hasEmail {
			return fmt.Errorf("move_to_folder: no email in scope")
		}
		role, _ := action.Params["folder_role"].(string)
		if role == "" {
			return fmt.Errorf("move_to_folder: missing folder_role")
		}
		folder, err := e.rdb.GetFolderByRole(ctx, uid, role)
		if err != nil {
			return err
		}
		return e.rdb.MoveToFolder(ctx, uid, emailID, folder.ID)
	case "trash":
		if !hasEmail {
			return fmt.Errorf("trash: no email in scope")
		}
		return e.rdb.Trash(ctx, uid, emailID)
	case "block_sender":
		address, _ := data["sender"].(string)
		if v, ok := action.Params["email"].(string); ok && v != "" {
			address = v
		}
		if address == "" {
			return fmt.Errorf("block_sender: missing sender address")
		}
		_, err := e.rdb.AddSenderEntry(ctx, uid, address, true)
		return err
	case "trigger_workflow":
		code, _ := action.Params["workflow_code"].(string)
		if code == "" {
			return fmt.Errorf("trigger_workflow: missing workflow_code")
		}
		wf, err := e.rdb.GetSystemWorkflowByCode(ctx, code)
		if err != nil {
			return err
		}
		return e.wf.RunSystem(ctx, wf, userID, "rule", data)
	default:
		return fmt.Errorf("unknown rule action %q", action.Type)
	}
}

func fieldOr(params, data map[string]any, key string) any {
	if v, ok := params[key]; ok {
		return v
	}
	return data[key]
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}
