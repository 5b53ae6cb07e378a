package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plumemail/plume/db"
)

func strptr(s string) *string { return &s }

func delayGraph() *Graph {
	return NewGraph([]*db.WorkflowNode{
		{NodeID: "delay1", NodeType: "logic", NodeSubtype: "logic_delay"},
		{NodeID: "after", NodeType: "action", NodeSubtype: "action_send_email"},
	}, []*db.WorkflowEdge{
		{SourceNodeID: "delay1", TargetNodeID: "after"},
	})
}

func TestGraphNextUnlabelled(t *testing.T) {
	g := delayGraph()
	assert.Equal(t, []string{"after"}, g.Next("delay1", ""))
	// a labelled lookup never follows plain edges
	assert.Nil(t, g.Next("delay1", "timeout"))
}

func TestGraphNextHandles(t *testing.T) {
	g := NewGraph([]*db.WorkflowNode{
		{NodeID: "cond", NodeType: "logic", NodeSubtype: "logic_condition"},
	}, []*db.WorkflowEdge{
		{SourceNodeID: "cond", TargetNodeID: "yes", SourceHandle: strptr("true")},
		{SourceNodeID: "cond", TargetNodeID: "no", ConditionKey: strptr("false")},
	})
	assert.Equal(t, []string{"yes"}, g.Next("cond", "true"))
	assert.Equal(t, []string{"no"}, g.Next("cond", "false"))
	assert.Nil(t, g.Next("cond", ""))
}

// A delay waking up continues through its plain edges; an expired wait
// takes the timeout handle when one exists and fails the run otherwise.
func TestTimerResume(t *testing.T) {
	handle, expired := timerResume("logic_delay", false)
	assert.Equal(t, "", handle)
	assert.False(t, expired)

	handle, expired = timerResume("logic_delay", true)
	assert.Equal(t, "", handle)
	assert.False(t, expired)

	handle, expired = timerResume("logic_wait", true)
	assert.Equal(t, "timeout", handle)
	assert.False(t, expired)

	_, expired = timerResume("logic_wait", false)
	assert.True(t, expired)
}

func TestStripInternal(t *testing.T) {
	out := stripInternal(map[string]any{
		"_suspend":   true,
		"_terminate": "success",
		"code":       "123456",
	})
	assert.Equal(t, map[string]any{"code": "123456"}, out)
}
