package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plumemail/plume/consts"
)

type Workflow struct {
	ID               int64
	OwnerID          int64
	Name             string
	Status           string // draft, published, disabled
	Version          int
	PublishedVersion *int
	Config           json.RawMessage
	ConfigSchema     json.RawMessage
	DefaultConfig    json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type WorkflowNode struct {
	ID           int64           `json:"-"`
	WorkflowID   int64           `json:"-"`
	NodeID       string          `json:"node_id"`
	NodeType     string          `json:"node_type"`
	NodeSubtype  string          `json:"node_subtype"`
	Position     json.RawMessage `json:"position,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	IsSystem     bool            `json:"is_system,omitempty"`
	IsRequired   bool            `json:"is_required,omitempty"`
	CanConfigure bool            `json:"can_configure,omitempty"`
	SortOrder    int             `json:"sort_order,omitempty"`
}

type WorkflowEdge struct {
	ID           int64   `json:"-"`
	WorkflowID   int64   `json:"-"`
	EdgeID       string  `json:"edge_id"`
	SourceNodeID string  `json:"source_node_id"`
	TargetNodeID string  `json:"target_node_id"`
	SourceHandle *string `json:"source_handle,omitempty"`
	TargetHandle *string `json:"target_handle,omitempty"`
	Label        *string `json:"label,omitempty"`
	ConditionKey *string `json:"condition_key,omitempty"`
}

const workflowColumns = `id, owner_id, name, status, version, published_version,
	config, config_schema, default_config, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*Workflow, error) {
	var w Workflow
	err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.Status, &w.Version, &w.PublishedVersion,
		&w.Config, &w.ConfigSchema, &w.DefaultConfig, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrWorkflowNotFound
		}
		return nil, mapError(err)
	}
	return &w, nil
}

// CreateWorkflow stores a new draft workflow.
func (db *Database) CreateWorkflow(ctx context.Context, ownerID int64, name string, config, schema, defaults json.RawMessage) (*Workflow, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO workflows (owner_id, name, config, config_schema, default_config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+workflowColumns+`
	`, ownerID, name, emptyJSON(config, "{}"), emptyJSON(schema, "{}"), emptyJSON(defaults, "{}"))
	return scanWorkflow(row)
}

// GetWorkflow fetches a workflow owned by the user.
func (db *Database) GetWorkflow(ctx context.Context, ownerID, id int64) (*Workflow, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+workflowColumns+` FROM workflows WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	return scanWorkflow(row)
}

// ListWorkflows lists all workflows owned by a user.
func (db *Database) ListWorkflows(ctx context.Context, ownerID int64) ([]*Workflow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE owner_id = $1 ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// ReplaceWorkflowGraph swaps the node and edge set of a draft in one
// transaction and bumps the version. Edges referring to nodes outside the
// set are rejected.
func (db *Database) ReplaceWorkflowGraph(ctx context.Context, ownerID, workflowID int64, nodes []*WorkflowNode, edges []*WorkflowEdge) error {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if known[n.NodeID] {
			return fmt.Errorf("duplicate node id %q", n.NodeID)
		}
		known[n.NodeID] = true
	}
	for _, e := range edges {
		if !known[e.SourceNodeID] || !known[e.TargetNodeID] {
			return fmt.Errorf("edge %q references unknown node", e.EdgeID)
		}
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE workflows SET version = version + 1, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, workflowID, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrWorkflowNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = $1`, workflowID); err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM workflow_edges WHERE workflow_id = $1`, workflowID); err != nil {
		return mapError(err)
	}

	for _, n := range nodes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_nodes (workflow_id, node_id, node_type, node_subtype,
				position, config, is_system, is_required, can_configure, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, workflowID, n.NodeID, n.NodeType, n.NodeSubtype,
			emptyJSON(n.Position, "{}"), emptyJSON(n.Config, "{}"),
			n.IsSystem, n.IsRequired, n.CanConfigure, n.SortOrder); err != nil {
			return mapError(err)
		}
	}
	for _, e := range edges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflow_edges (workflow_id, edge_id, source_node_id, target_node_id,
				source_handle, target_handle, label, condition_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, workflowID, e.EdgeID, e.SourceNodeID, e.TargetNodeID,
			e.SourceHandle, e.TargetHandle, e.Label, e.ConditionKey); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit(ctx)
}

// GetWorkflowGraph loads the current node and edge set of a workflow.
func (db *Database) GetWorkflowGraph(ctx context.Context, workflowID int64) ([]*WorkflowNode, []*WorkflowEdge, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, workflow_id, node_id, node_type, node_subtype, position, config,
			is_system, is_required, can_configure, sort_order
		FROM workflow_nodes WHERE workflow_id = $1 ORDER BY sort_order, id
	`, workflowID)
	if err != nil {
		return nil, nil, mapError(err)
	}
	var nodes []*WorkflowNode
	for rows.Next() {
		var n WorkflowNode
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.NodeID, &n.NodeType, &n.NodeSubtype,
			&n.Position, &n.Config, &n.IsSystem, &n.IsRequired, &n.CanConfigure, &n.SortOrder); err != nil {
			rows.Close()
			return nil, nil, err
		}
		nodes = append(nodes, &n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = db.Pool.Query(ctx, `
		SELECT id, workflow_id, edge_id, source_node_id, target_node_id,
			source_handle, target_handle, label, condition_key
		FROM workflow_edges WHERE workflow_id = $1 ORDER BY id
	`, workflowID)
	if err != nil {
		return nil, nil, mapError(err)
	}
	defer rows.Close()

	var edges []*WorkflowEdge
	for rows.Next() {
		var e WorkflowEdge
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.EdgeID, &e.SourceNodeID, &e.TargetNodeID,
			&e.SourceHandle, &e.TargetHandle, &e.Label, &e.ConditionKey); err != nil {
			return nil, nil, err
		}
		edges = append(edges, &e)
	}
	return nodes, edges, rows.Err()
}

// PublishWorkflow snapshots the current graph into workflow_versions and
// marks the workflow published at that version.
func (db *Database) PublishWorkflow(ctx context.Context, ownerID, workflowID int64, changeSummary string) (*Workflow, error) {
	nodes, edges, err := db.GetWorkflowGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, err
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE workflows SET status = 'published', published_version = version, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+workflowColumns+`
	`, workflowID, ownerID)
	w, err := scanWorkflow(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, nodes, edges, config, change_summary, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id, version) DO UPDATE SET
			nodes = EXCLUDED.nodes, edges = EXCLUDED.edges, config = EXCLUDED.config,
			change_summary = EXCLUDED.change_summary
	`, workflowID, w.Version, nodesJSON, edgesJSON, emptyJSON(w.Config, "{}"),
		changeSummary, ownerID); err != nil {
		return nil, mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// SetWorkflowStatus flips between published and disabled.
func (db *Database) SetWorkflowStatus(ctx context.Context, ownerID, workflowID int64, status string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE workflows SET status = $3, updated_at = now()
		WHERE id = $1 AND owner_id = $2
	`, workflowID, ownerID, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrWorkflowNotFound
	}
	return nil
}

// DeleteWorkflow removes a workflow with its graph and versions.
func (db *Database) DeleteWorkflow(ctx context.Context, ownerID, workflowID int64) error {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM workflows WHERE id = $1 AND owner_id = $2`, workflowID, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrWorkflowNotFound
	}
	return nil
}

// GetWorkflowVersion loads a published snapshot of a workflow graph.
func (db *Database) GetWorkflowVersion(ctx context.Context, workflowID int64, version int) ([]*WorkflowNode, []*WorkflowEdge, error) {
	var nodesJSON, edgesJSON []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT nodes, edges FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`, workflowID, version).Scan(&nodesJSON, &edgesJSON)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, nil, consts.ErrWorkflowNotFound
		}
		return nil, nil, mapError(err)
	}
	var nodes []*WorkflowNode
	var edges []*WorkflowEdge
	if err := json.Unmarshal(nodesJSON, &nodes); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(edgesJSON, &edges); err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

// ListPublishedTriggerWorkflows returns published workflows whose graph
// contains a trigger node for the given event, joined with owner filtering
// left to the caller.
func (db *Database) ListPublishedTriggerWorkflows(ctx context.Context, triggerSubtype string) ([]*Workflow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT `+prefixed("w", workflowColumns)+`
		FROM workflows w
		JOIN workflow_nodes n ON n.workflow_id = w.id
		WHERE w.status = 'published' AND n.node_type = 'trigger' AND n.node_subtype = $1
	`, triggerSubtype)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// ListWorkflowsForEvent returns published workflows whose trigger node is
// bound to the given event code, optionally restricted to one owner.
func (db *Database) ListWorkflowsForEvent(ctx context.Context, event string, ownerID *int64) ([]*Workflow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT `+prefixed("w", workflowColumns)+`
		FROM workflows w
		JOIN workflow_nodes n ON n.workflow_id = w.id
		WHERE w.status = 'published'
		  AND n.node_type = 'trigger'
		  AND n.config->>'event' = $1
		  AND ($2::bigint IS NULL OR w.owner_id = $2)
	`, event, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

type SystemWorkflow struct {
	ID            int64
	Code          string
	Name          string
	TriggerEvent  *string
	Nodes         json.RawMessage
	Edges         json.RawMessage
	DefaultConfig json.RawMessage
	IsActive      bool
	Version       int
}

const systemWorkflowColumns = `id, code, name, trigger_event, nodes, edges, default_config, is_active, version`

func scanSystemWorkflow(row interface{ Scan(...any) error }) (*SystemWorkflow, error) {
	var w SystemWorkflow
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.TriggerEvent, &w.Nodes, &w.Edges,
		&w.DefaultConfig, &w.IsActive, &w.Version)
	if err != nil {
		if errors.Is(mapError(err), consts.ErrDBNotFound) {
			return nil, consts.ErrWorkflowNotFound
		}
		return nil, mapError(err)
	}
	return &w, nil
}

// GetSystemWorkflowByEvent resolves the single active system workflow bound
// to an event code, if any.
func (db *Database) GetSystemWorkflowByEvent(ctx context.Context, event string) (*SystemWorkflow, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+systemWorkflowColumns+` FROM system_workflows
		WHERE trigger_event = $1 AND is_active
	`, event)
	return scanSystemWorkflow(row)
}

// GetSystemWorkflowByCode fetches a system workflow regardless of state.
func (db *Database) GetSystemWorkflowByCode(ctx context.Context, code string) (*SystemWorkflow, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+systemWorkflowColumns+` FROM system_workflows WHERE code = $1
	`, code)
	return scanSystemWorkflow(row)
}

// ListSystemWorkflows lists every system workflow for the admin surface.
func (db *Database) ListSystemWorkflows(ctx context.Context) ([]*SystemWorkflow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+systemWorkflowColumns+` FROM system_workflows ORDER BY code`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var workflows []*SystemWorkflow
	for rows.Next() {
		w, err := scanSystemWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// UpsertSystemWorkflow installs or updates a built-in workflow definition,
// bumping its version when the graph changes.
func (db *Database) UpsertSystemWorkflow(ctx context.Context, w *SystemWorkflow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO system_workflows (code, name, trigger_event, nodes, edges, default_config, is_active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_event = EXCLUDED.trigger_event,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			default_config = EXCLUDED.default_config,
			is_active = EXCLUDED.is_active,
			version = system_workflows.version + 1
	`, w.Code, w.Name, w.TriggerEvent, emptyJSON(w.Nodes, "[]"), emptyJSON(w.Edges, "[]"),
		emptyJSON(w.DefaultConfig, "{}"), w.IsActive)
	return mapError(err)
}
