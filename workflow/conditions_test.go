package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		left     any
		right    any
		want     bool
	}{
		{"equals strings", "equals", "spam", "spam", true},
		{"equals mismatch", "equals", "spam", "ham", false},
		{"equals numeric coercion", "equals", "3", float64(3), true},
		{"not_equals", "not_equals", "a", "b", true},
		{"contains", "contains", "urgent: invoice", "invoice", true},
		{"not_contains", "not_contains", "hello", "bye", true},
		{"starts_with", "starts_with", "Re: hello", "Re:", true},
		{"ends_with", "ends_with", "report.pdf", ".pdf", true},
		{"greater_than", "greater_than", float64(10), "5", true},
		{"greater_than non-numeric", "greater_than", "abc", "5", false},
		{"less_than", "less_than", "2.5", float64(3), true},
		{"greater_or_equal equal", "greater_or_equal", float64(5), float64(5), true},
		{"less_or_equal", "less_or_equal", float64(4), float64(5), true},
		{"is_empty", "is_empty", "", nil, true},
		{"is_empty nonempty", "is_empty", "x", nil, false},
		{"is_not_empty", "is_not_empty", "x", nil, true},
		{"regex unanchored", "regex_match", "order #12345 shipped", `#\d+`, true},
		{"regex no match", "regex_match", "hello", `^\d+$`, false},
		{"regex invalid pattern", "regex_match", "hello", `(`, false},
		{"matches_regex alias", "matches_regex", "order #12345 shipped", `#\d+`, true},
		{"matches alias", "matches", "abc123", `\d+`, true},
		{"in_list array", "in_list", "spam", []any{"ham", "spam"}, true},
		{"in_list array miss", "in_list", "eggs", []any{"ham", "spam"}, false},
		{"in_list comma string", "in_list", "spam", "ham, spam, eggs", true},
		{"in_list numeric", "in_list", float64(3), []any{"1", "2", "3"}, true},
		{"unknown operator", "frobnicate", "a", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(tt.operator, tt.left, tt.right))
		})
	}
}

func TestMatchClauses(t *testing.T) {
	data := map[string]any{"sender": "news@list.test", "subject": "Digest"}
	lookup := func(field string) any { return data[field] }

	all := []Clause{
		{Field: "sender", Operator: "ends_with", Value: "list.test"},
		{Field: "subject", Operator: "equals", Value: "Digest"},
	}
	assert.True(t, MatchClauses("all", all, lookup))
	assert.True(t, MatchClauses("", all, lookup))

	mixed := []Clause{
		{Field: "sender", Operator: "equals", Value: "other@list.test"},
		{Field: "subject", Operator: "equals", Value: "Digest"},
	}
	assert.False(t, MatchClauses("all", mixed, lookup))
	assert.True(t, MatchClauses("any", mixed, lookup))
	assert.True(t, MatchClauses("or", mixed, lookup))

	none := []Clause{{Field: "subject", Operator: "equals", Value: "nope"}}
	assert.False(t, MatchClauses("any", none, lookup))

	assert.True(t, MatchClauses("all", nil, lookup))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "x", Stringify("x"))
	assert.Equal(t, "7", Stringify(float64(7)))
	assert.Equal(t, "7.5", Stringify(7.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
