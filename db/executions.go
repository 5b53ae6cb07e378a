package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/plumemail/plume/consts"
)

type WorkflowExecution struct {
	ID              int64
	WorkflowType    string // system or custom
	WorkflowID      int64
	WorkflowVersion int
	UserID          *int64
	TriggerType     string
	TriggerData     json.RawMessage
	Status          string // pending, running, success, failed, cancelled, waiting
	CurrentNode     *string
	Context         json.RawMessage
	RemainingQueue  json.RawMessage
	WakeAt          *time.Time
	StartedAt       time.Time
	FinishedAt      *time.Time
	Result          json.RawMessage
	Error           *string
}

const executionColumns = `id, workflow_type, workflow_id, workflow_version, user_id,
	trigger_type, trigger_data, status, current_node, context, remaining_queue,
	wake_at, started_at, finished_at, result, error`

func scanExecution(row interface{ Scan(...any) error }) (*WorkflowExecution, error) {
	var e WorkflowExecution
	err := row.Scan(&e.ID, &e.WorkflowType, &e.WorkflowID, &e.WorkflowVersion, &e.UserID,
		&e.TriggerType, &e.TriggerData, &e.Status, &e.CurrentNode, &e.Context,
		&e.RemainingQueue, &e.WakeAt, &e.StartedAt, &e.FinishedAt, &e.Result, &e.Error)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrExecutionNotFound
		}
		return nil, mapError(err)
	}
	return &e, nil
}

// CreateExecution records the start of a workflow run.
func (db *Database) CreateExecution(ctx context.Context, e *WorkflowExecution) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO workflow_executions (workflow_type, workflow_id, workflow_version,
			user_id, trigger_type, trigger_data, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'running')
		RETURNING id
	`, e.WorkflowType, e.WorkflowID, e.WorkflowVersion, e.UserID, e.TriggerType,
		emptyJSON(e.TriggerData, "{}")).Scan(&id)
	return id, mapError(err)
}

// GetExecution fetches one execution record.
func (db *Database) GetExecution(ctx context.Context, id int64) (*WorkflowExecution, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	return scanExecution(row)
}

// ListExecutions returns recent executions of one workflow, newest first.
func (db *Database) ListExecutions(ctx context.Context, workflowType string, workflowID int64, limit int) ([]*WorkflowExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE workflow_type = $1 AND workflow_id = $2
		ORDER BY id DESC LIMIT $3
	`, workflowType, workflowID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var executions []*WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// FinishExecution records the terminal state of a run.
func (db *Database) FinishExecution(ctx context.Context, id int64, status string, result json.RawMessage, execErr *string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $2, result = $3, error = $4, finished_at = now(),
			current_node = NULL, wake_at = NULL
		WHERE id = $1
	`, id, status, result, execErr)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrExecutionNotFound
	}
	return nil
}

// SuspendExecution parks a run in the waiting state with everything needed
// to resume it: the accumulated context, the unprocessed queue and the node
// that is waiting.
func (db *Database) SuspendExecution(ctx context.Context, id int64, nodeID string, execContext, remainingQueue json.RawMessage, wakeAt *time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'waiting', current_node = $2, context = $3,
			remaining_queue = $4, wake_at = $5
		WHERE id = $1 AND status = 'running'
	`, id, nodeID, emptyJSON(execContext, "{}"), emptyJSON(remainingQueue, "[]"), wakeAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrInvalidState
	}
	return nil
}

// ResumeExecution atomically claims a waiting run for resumption. It returns
// ErrInvalidState if the run was already claimed or finished.
func (db *Database) ResumeExecution(ctx context.Context, id int64) (*WorkflowExecution, error) {
	row := db.Pool.QueryRow(ctx, `
		UPDATE workflow_executions
		SET status = 'running', wake_at = NULL
		WHERE id = $1 AND status = 'waiting'
		RETURNING `+executionColumns+`
	`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, consts.ErrExecutionNotFound) {
			return nil, consts.ErrInvalidState
		}
		return nil, err
	}
	return e, nil
}

// ListDueWaiting returns waiting executions whose wake time has passed.
func (db *Database) ListDueWaiting(ctx context.Context, limit int) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id FROM workflow_executions
		WHERE status = 'waiting' AND wake_at IS NOT NULL AND wake_at <= now()
		ORDER BY wake_at LIMIT $1
	`, limit)
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

// FindWaitingExecution locates a run suspended at a wait node for a user,
// used to resume on an external signal such as a submitted code. A non-empty
// waitType only matches runs whose waiting node recorded that wait_type; an
// empty waitType matches any suspended run.
func (db *Database) FindWaitingExecution(ctx context.Context, userID int64, waitType string) (*WorkflowExecution, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+prefixed("we", executionColumns)+` FROM workflow_executions we
		WHERE we.status = 'waiting' AND we.user_id = $1
		  AND ($2 = '' OR EXISTS (
			SELECT 1 FROM workflow_node_executions ne
			WHERE ne.execution_id = we.id AND ne.node_id = we.current_node
			  AND ne.output->>'wait_type' = $2))
		ORDER BY we.id DESC LIMIT 1
	`, userID, waitType)
	return scanExecution(row)
}

type NodeExecution struct {
	ID          int64
	ExecutionID int64
	NodeID      string
	NodeType    string
	Status      string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Input       json.RawMessage
	Output      json.RawMessage
	Error       *string
}

// RecordNodeExecution stores the outcome of one node step.
func (db *Database) RecordNodeExecution(ctx context.Context, n *NodeExecution) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO workflow_node_executions (execution_id, node_id, node_type, status,
			started_at, finished_at, input, output, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ExecutionID, n.NodeID, n.NodeType, n.Status, n.StartedAt, n.FinishedAt,
		emptyJSON(n.Input, "{}"), emptyJSON(n.Output, "{}"), n.Error)
	return mapError(err)
}

// ListNodeExecutions returns the node trace of one run in step order.
func (db *Database) ListNodeExecutions(ctx context.Context, executionID int64) ([]*NodeExecution, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, execution_id, node_id, node_type, status, started_at, finished_at,
			input, output, error
		FROM workflow_node_executions
		WHERE execution_id = $1 ORDER BY id
	`, executionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var steps []*NodeExecution
	for rows.Next() {
		var n NodeExecution
		if err := rows.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.Status,
			&n.StartedAt, &n.FinishedAt, &n.Input, &n.Output, &n.Error); err != nil {
			return nil, err
		}
		steps = append(steps, &n)
	}
	return steps, rows.Err()
}
