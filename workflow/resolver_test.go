package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/db"
)

type (
	dbNode = db.WorkflowNode
	dbEdge = db.WorkflowEdge
)

func node(id, nodeType, subtype string) *dbNode {
	return &dbNode{NodeID: id, NodeType: nodeType, NodeSubtype: subtype}
}

func edge(id, source, target string, handle *string) *dbEdge {
	return &dbEdge{EdgeID: id, SourceNodeID: source, TargetNodeID: target, SourceHandle: handle}
}

func testExecContext() *ExecContext {
	execCtx := NewExecContext(
		map[string]any{
			"email":    "alice@example.com",
			"email_id": float64(7),
			"nested":   map[string]any{"deep": "value"},
		},
		map[string]any{"greeting": "Hello", "retries": float64(3)},
	)
	execCtx.SetStep("gen", map[string]any{"code": "123456", "_output_handle": "x"})
	return execCtx
}

func TestResolveStringSingleReference(t *testing.T) {
	execCtx := testExecContext()

	// a lone reference keeps the value's type
	assert.Equal(t, float64(7), ResolveString("{{trigger.email_id}}", execCtx))
	assert.Equal(t, "alice@example.com", ResolveString("{{trigger.email}}", execCtx))
	assert.Equal(t, "123456", ResolveString("{{steps.gen.code}}", execCtx))
	assert.Equal(t, "Hello", ResolveString("{{config.greeting}}", execCtx))
	assert.Equal(t, "value", ResolveString("{{trigger.nested.deep}}", execCtx))
}

func TestResolveStringInterpolation(t *testing.T) {
	execCtx := testExecContext()

	out := ResolveString("{{config.greeting}} alice, your code is {{steps.gen.code}}", execCtx)
	assert.Equal(t, "Hello alice, your code is 123456", out)

	// numbers render without a trailing decimal
	assert.Equal(t, "id=7", ResolveString("id={{trigger.email_id}}", execCtx))
}

func TestResolveStringUnknownReference(t *testing.T) {
	execCtx := testExecContext()
	assert.Equal(t, "", ResolveString("{{trigger.missing}}", execCtx))
	assert.Equal(t, "x= y", ResolveString("x={{steps.nope.field}} y", execCtx))
}

func TestResolveStringIgnoresInternalStepKeys(t *testing.T) {
	execCtx := testExecContext()
	assert.Equal(t, "", ResolveString("{{steps.gen._output_handle}}", execCtx))
}

func TestResolveConfigNested(t *testing.T) {
	execCtx := testExecContext()
	resolved := ResolveConfig(map[string]any{
		"to":      "{{trigger.email}}",
		"variables": map[string]any{
			"code": "{{steps.gen.code}}",
		},
		"list":  []any{"{{config.greeting}}", "literal"},
		"count": float64(2),
	}, execCtx)

	assert.Equal(t, "alice@example.com", resolved["to"])
	assert.Equal(t, "123456", resolved["variables"].(map[string]any)["code"])
	assert.Equal(t, []any{"Hello", "literal"}, resolved["list"])
	assert.Equal(t, float64(2), resolved["count"])
}

func TestGraphNextHandleSelection(t *testing.T) {
	yes, no := "true", "false"
	graph := NewGraph(
		[]*dbNode{
			node("t", "trigger", "trigger_event"),
			node("cond", "logic", "logic_condition"),
			node("a", "action", "action_send_email"),
			node("b", "action", "action_send_email"),
		},
		[]*dbEdge{
			edge("e1", "t", "cond", nil),
			edge("e2", "cond", "a", &yes),
			edge("e3", "cond", "b", &no),
		},
	)

	assert.Equal(t, []string{"cond"}, graph.Next("t", ""))
	assert.Equal(t, []string{"a"}, graph.Next("cond", "true"))
	assert.Equal(t, []string{"b"}, graph.Next("cond", "false"))
	// a handle with no matching edge ends the branch
	assert.Empty(t, graph.Next("cond", "maybe"))
	// labelled edges are not followed by default
	assert.Empty(t, graph.Next("cond", ""))
}

func TestHandleConditionAndSwitch(t *testing.T) {
	execCtx := testExecContext()

	out, err := handleCondition(context.Background(), &Invocation{
		Exec:   execCtx,
		Config: map[string]any{"operator": "equals", "left": "a", "right": "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "true", out["_output_handle"])
	assert.Equal(t, true, out["result"])

	out, err = handleSwitch(context.Background(), &Invocation{
		Exec:   execCtx,
		Config: map[string]any{"value": "spam", "cases": []any{"spam", "ham"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "spam", out["_output_handle"])

	out, err = handleSwitch(context.Background(), &Invocation{
		Exec:   execCtx,
		Config: map[string]any{"value": "other", "cases": []any{"spam", "ham"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "default", out["_output_handle"])
}

func TestHandleDelaySuspends(t *testing.T) {
	out, err := handleDelay(context.Background(), &Invocation{
		Config: map[string]any{"duration_seconds": float64(60)},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["_suspend"])
	assert.NotNil(t, out["_wake_at"])

	_, err = handleDelay(context.Background(), &Invocation{Config: map[string]any{}})
	assert.Error(t, err)
}

func TestRegistryTriggerFallback(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("action_unknown"))
	assert.NotNil(t, r.Get("trigger_custom_thing"))
}
