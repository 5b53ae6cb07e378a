package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

// maxSteps bounds one run so a cyclic graph cannot spin forever.
const maxSteps = 200

// Notifier pushes realtime updates to connected clients. Satisfied by the
// websocket hub; nil disables notifications.
type Notifier interface {
	Notify(userID int64, event string, payload any)
}

// Graph is an in-memory workflow graph keyed by node id.
type Graph struct {
	nodes map[string]*db.WorkflowNode
	edges []*db.WorkflowEdge
}

func NewGraph(nodes []*db.WorkflowNode, edges []*db.WorkflowEdge) *Graph {
	g := &Graph{nodes: make(map[string]*db.WorkflowNode, len(nodes)), edges: edges}
	for _, n := range nodes {
		g.nodes[n.NodeID] = n
	}
	return g
}

func (g *Graph) Node(id string) *db.WorkflowNode { return g.nodes[id] }

// TriggerNodes returns the graph entry points in sort order.
func (g *Graph) TriggerNodes() []string {
	var ids []string
	for _, n := range g.nodes {
		if n.NodeType == "trigger" {
			ids = append(ids, n.NodeID)
		}
	}
	return ids
}

// Next returns the successor node ids of a node. When the node emitted an
// output handle only edges bound to that handle are followed; otherwise
// every unlabelled edge is.
func (g *Graph) Next(nodeID, handle string) []string {
	var out []string
	for _, e := range g.edges {
		if e.SourceNodeID != nodeID {
			continue
		}
		edgeHandle := ""
		if e.SourceHandle != nil {
			edgeHandle = *e.SourceHandle
		} else if e.ConditionKey != nil {
			edgeHandle = *e.ConditionKey
		}
		if handle == "" {
			if edgeHandle == "" {
				out = append(out, e.TargetNodeID)
			}
			continue
		}
		if edgeHandle == handle {
			out = append(out, e.TargetNodeID)
		}
	}
	return out
}

// Engine runs workflow graphs against the registered node handlers.
type Engine struct {
	rdb      *db.Database
	registry *Registry
	notifier Notifier
}

func NewEngine(rdb *db.Database, registry *Registry, notifier Notifier) *Engine {
	return &Engine{rdb: rdb, registry: registry, notifier: notifier}
}

func (e *Engine) Registry() *Registry { return e.registry }

// RunSystem executes a built-in workflow against a trigger payload.
func (e *Engine) RunSystem(ctx context.Context, wf *db.SystemWorkflow, userID *int64, triggerType string, data map[string]any) error {
	var nodes []*db.WorkflowNode
	var edges []*db.WorkflowEdge
	if err := json.Unmarshal(wf.Nodes, &nodes); err != nil {
		return fmt.Errorf("system workflow %s has malformed nodes: %w", wf.Code, err)
	}
	if err := json.Unmarshal(wf.Edges, &edges); err != nil {
		return fmt.Errorf("system workflow %s has malformed edges: %w", wf.Code, err)
	}
	var config map[string]any
	if len(wf.DefaultConfig) > 0 {
		json.Unmarshal(wf.DefaultConfig, &config)
	}
	return e.run(ctx, "system", wf.ID, wf.Version, userID, triggerType, data, NewGraph(nodes, edges), config)
}

// RunCustom executes a user workflow at its published version.
func (e *Engine) RunCustom(ctx context.Context, wf *db.Workflow, triggerType string, data map[string]any) error {
	if wf.Status != "published" || wf.PublishedVersion == nil {
		return fmt.Errorf("workflow %d is not published: %w", wf.ID, consts.ErrInvalidState)
	}
	nodes, edges, err := e.rdb.GetWorkflowVersion(ctx, wf.ID, *wf.PublishedVersion)
	if err != nil {
		return err
	}
	config := map[string]any{}
	if len(wf.DefaultConfig) > 0 {
		json.Unmarshal(wf.DefaultConfig, &config)
	}
	var overrides map[string]any
	if len(wf.Config) > 0 {
		json.Unmarshal(wf.Config, &overrides)
	}
	for k, v := range overrides {
		config[k] = v
	}
	return e.run(ctx, "custom", wf.ID, *wf.PublishedVersion, &wf.OwnerID, triggerType, data, NewGraph(nodes, edges), config)
}

func (e *Engine) run(ctx context.Context, workflowType string, workflowID int64, version int, userID *int64, triggerType string, data map[string]any, graph *Graph, config map[string]any) error {
	execID, err := e.rdb.CreateExecution(ctx, &db.WorkflowExecution{
		WorkflowType:    workflowType,
		WorkflowID:      workflowID,
		WorkflowVersion: version,
		UserID:          userID,
		TriggerType:     triggerType,
		TriggerData:     mustJSON(data),
	})
	if err != nil {
		return err
	}

	execCtx := NewExecContext(data, config)
	queue := graph.TriggerNodes()
	if len(queue) == 0 {
		detail := "workflow has no trigger node"
		e.rdb.FinishExecution(ctx, execID, "failed", nil, &detail)
		return fmt.Errorf("%s", detail)
	}
	return e.step(ctx, execID, workflowType, userID, graph, execCtx, queue)
}

// step drains the node queue until the run finishes, fails or suspends.
func (e *Engine) step(ctx context.Context, execID int64, workflowType string, userID *int64, graph *Graph, execCtx *ExecContext, queue []string) error {
	start := time.Now()
	steps := 0
	for len(queue) > 0 {
		steps++
		if steps > maxSteps {
			return e.fail(ctx, execID, workflowType, "step limit exceeded")
		}

		nodeID := queue[0]
		queue = queue[1:]
		node := graph.Node(nodeID)
		if node == nil {
			return e.fail(ctx, execID, workflowType, fmt.Sprintf("unknown node %q", nodeID))
		}

		output, err := e.executeNode(ctx, execID, node, execCtx, userID)
		if err != nil {
			return e.fail(ctx, execID, workflowType, err.Error())
		}

		if suspend, _ := output["_suspend"].(bool); suspend {
			var wakeAt *time.Time
			if t, ok := output["_wake_at"].(time.Time); ok {
				wakeAt = &t
			}
			if err := e.rdb.SuspendExecution(ctx, execID, nodeID,
				mustJSON(execCtx), mustJSON(queue), wakeAt); err != nil {
				return err
			}
			logger.Debug("workflow execution suspended", "execution_id", execID, "node", nodeID)
			return nil
		}

		execCtx.SetStep(nodeID, output)

		if terminate, _ := output["_terminate"].(string); terminate != "" {
			return e.finish(ctx, execID, workflowType, terminate, stripInternal(output), execCtx, start)
		}

		handle, _ := output["_output_handle"].(string)
		queue = append(queue, graph.Next(nodeID, handle)...)
	}
	return e.finish(ctx, execID, workflowType, "success", nil, execCtx, start)
}

func (e *Engine) executeNode(ctx context.Context, execID int64, node *db.WorkflowNode, execCtx *ExecContext, userID *int64) (map[string]any, error) {
	handler := e.registry.Get(node.NodeSubtype)
	if handler == nil {
		return nil, fmt.Errorf("no handler for node subtype %q", node.NodeSubtype)
	}

	var rawConfig map[string]any
	if len(node.Config) > 0 {
		json.Unmarshal(node.Config, &rawConfig)
	}
	resolved := ResolveConfig(rawConfig, execCtx)

	started := time.Now()
	output, err := handler(ctx, &Invocation{
		Engine:      e,
		Node:        node,
		Config:      resolved,
		Exec:        execCtx,
		UserID:      userID,
		ExecutionID: execID,
	})
	finished := time.Now()

	status := "success"
	var execErr *string
	if err != nil {
		status = "failed"
		detail := err.Error()
		execErr = &detail
	}
	metrics.WorkflowNodesTotal.WithLabelValues(node.NodeSubtype, status).Inc()
	if recErr := e.rdb.RecordNodeExecution(ctx, &db.NodeExecution{
		ExecutionID: execID,
		NodeID:      node.NodeID,
		NodeType:    node.NodeSubtype,
		Status:      status,
		StartedAt:   &started,
		FinishedAt:  &finished,
		Input:       mustJSON(resolved),
		Output:      mustJSON(stripInternal(output)),
		Error:       execErr,
	}); recErr != nil {
		logger.Error("failed to record node execution", "execution_id", execID, "node", node.NodeID, "error", recErr)
	}
	if output == nil {
		output = map[string]any{}
	}
	return output, err
}

// finish records the terminal state. A terminal node's output becomes the
// execution result; runs that simply drain the queue store the step map.
func (e *Engine) finish(ctx context.Context, execID int64, workflowType, status string, result map[string]any, execCtx *ExecContext, start time.Time) error {
	metrics.WorkflowExecutionsTotal.WithLabelValues(workflowType, status).Inc()
	metrics.WorkflowExecutionDuration.WithLabelValues(workflowType).Observe(time.Since(start).Seconds())
	stored := mustJSON(execCtx.Steps)
	if len(result) > 0 {
		stored = mustJSON(result)
	}
	var execErr *string
	if status == "failed" {
		detail := "workflow reached a failure end node"
		if msg, _ := result["error_message"].(string); msg != "" {
			detail = msg
		}
		if code, _ := result["error_code"].(string); code != "" {
			detail = code + ": " + detail
		}
		execErr = &detail
	}
	return e.rdb.FinishExecution(ctx, execID, status, stored, execErr)
}

func (e *Engine) fail(ctx context.Context, execID int64, workflowType, detail string) error {
	metrics.WorkflowExecutionsTotal.WithLabelValues(workflowType, "failed").Inc()
	logger.Warn("workflow execution failed", "execution_id", execID, "error", detail)
	if err := e.rdb.FinishExecution(ctx, execID, "failed", nil, &detail); err != nil {
		return err
	}
	return fmt.Errorf("workflow execution %d failed: %s", execID, detail)
}

// Resume continues a suspended run. The signal payload becomes the waiting
// node's output. Timer-driven resumes depend on the node: a delay simply
// continues, while an expired wait takes its timeout handle or, when no
// timeout edge exists, fails the execution.
func (e *Engine) Resume(ctx context.Context, execID int64, signal map[string]any, timedOut bool) error {
	exec, err := e.rdb.ResumeExecution(ctx, execID)
	if err != nil {
		return err
	}
	graph, err := e.loadGraph(ctx, exec)
	if err != nil {
		return e.fail(ctx, execID, exec.WorkflowType, err.Error())
	}

	var execCtx ExecContext
	if err := json.Unmarshal(exec.Context, &execCtx); err != nil {
		return e.fail(ctx, execID, exec.WorkflowType, "corrupt execution context")
	}
	if execCtx.Steps == nil {
		execCtx.Steps = map[string]map[string]any{}
	}
	var queue []string
	if len(exec.RemainingQueue) > 0 {
		json.Unmarshal(exec.RemainingQueue, &queue)
	}

	if exec.CurrentNode == nil {
		return e.fail(ctx, execID, exec.WorkflowType, "suspended execution has no current node")
	}
	nodeID := *exec.CurrentNode
	node := graph.Node(nodeID)
	if node == nil {
		return e.fail(ctx, execID, exec.WorkflowType, fmt.Sprintf("unknown node %q", nodeID))
	}

	output := map[string]any{}
	handle := ""
	if timedOut {
		h, expired := timerResume(node.NodeSubtype, len(graph.Next(nodeID, "timeout")) > 0)
		if node.NodeSubtype != "logic_delay" {
			output["timed_out"] = true
		}
		if expired {
			execCtx.SetStep(nodeID, output)
			return e.fail(ctx, execID, exec.WorkflowType,
				fmt.Sprintf("wait at node %q timed out", nodeID))
		}
		handle = h
	} else {
		for k, v := range signal {
			output[k] = v
		}
		output["resumed"] = true
	}
	execCtx.SetStep(nodeID, output)
	queue = append(graph.Next(nodeID, handle), queue...)

	return e.step(ctx, execID, exec.WorkflowType, exec.UserID, graph, &execCtx, queue)
}

// timerResume classifies a timer wake-up. A delay completing is normal
// progress through the node's plain edges; an expired wait takes its
// timeout handle, or fails the run when the graph declares none.
func timerResume(subtype string, hasTimeoutEdge bool) (handle string, expired bool) {
	if subtype == "logic_delay" {
		return "", false
	}
	if hasTimeoutEdge {
		return "timeout", false
	}
	return "", true
}

func (e *Engine) loadGraph(ctx context.Context, exec *db.WorkflowExecution) (*Graph, error) {
	var nodes []*db.WorkflowNode
	var edges []*db.WorkflowEdge
	switch exec.WorkflowType {
	case "system":
		rows, err := e.rdb.ListSystemWorkflows(ctx)
		if err != nil {
			return nil, err
		}
		for _, wf := range rows {
			if wf.ID == exec.WorkflowID {
				if err := json.Unmarshal(wf.Nodes, &nodes); err != nil {
					return nil, err
				}
				if err := json.Unmarshal(wf.Edges, &edges); err != nil {
					return nil, err
				}
				return NewGraph(nodes, edges), nil
			}
		}
		return nil, consts.ErrWorkflowNotFound
	default:
		var err error
		nodes, edges, err = e.rdb.GetWorkflowVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
		if err != nil {
			return nil, err
		}
		return NewGraph(nodes, edges), nil
	}
}

// Notify forwards to the configured realtime notifier, if any.
func (e *Engine) Notify(userID int64, event string, payload any) {
	if e.notifier != nil {
		e.notifier.Notify(userID, event, payload)
	}
}

func stripInternal(m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
