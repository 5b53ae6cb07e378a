package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionSetUnmarshal(t *testing.T) {
	// bare array defaults to match-all
	var set ConditionSet
	require.NoError(t, json.Unmarshal([]byte(`[{"field":"subject","operator":"contains","value":"invoice"}]`), &set))
	assert.Equal(t, "all", set.Match)
	require.Len(t, set.Items, 1)

	// object form keeps its match mode
	var set2 ConditionSet
	require.NoError(t, json.Unmarshal([]byte(`{"match":"any","items":[{"field":"sender","operator":"equals","value":"a@b.c"}]}`), &set2))
	assert.Equal(t, "any", set2.Match)
}

func TestMatchesAll(t *testing.T) {
	set := &ConditionSet{Match: "all", Items: []Condition{
		{Field: "subject", Operator: "contains", Value: "invoice"},
		{Field: "sender", Operator: "ends_with", Value: "@billing.example.com"},
	}}
	data := map[string]any{
		"subject": "Your invoice is ready",
		"sender":  "noreply@billing.example.com",
	}
	assert.True(t, Matches(set, data))

	data["sender"] = "noreply@other.example.com"
	assert.False(t, Matches(set, data))
}

func TestMatchesAny(t *testing.T) {
	set := &ConditionSet{Match: "any", Items: []Condition{
		{Field: "subject", Operator: "contains", Value: "urgent"},
		{Field: "subject", Operator: "contains", Value: "invoice"},
	}}
	assert.True(t, Matches(set, map[string]any{"subject": "invoice attached"}))
	assert.False(t, Matches(set, map[string]any{"subject": "weekly digest"}))
}

func TestMatchesEmptySet(t *testing.T) {
	assert.True(t, Matches(&ConditionSet{}, map[string]any{"subject": "anything"}))
}

func TestMatchesNestedField(t *testing.T) {
	set := &ConditionSet{Match: "all", Items: []Condition{
		{Field: "meta.priority", Operator: "greater_than", Value: float64(3)},
	}}
	data := map[string]any{"meta": map[string]any{"priority": float64(5)}}
	assert.True(t, Matches(set, data))
	assert.False(t, Matches(set, map[string]any{"meta": map[string]any{"priority": float64(1)}}))
	// missing field never matches a comparison
	assert.False(t, Matches(set, map[string]any{}))
}
