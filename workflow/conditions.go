package workflow

import (
	"regexp"
	"strconv"
	"strings"
)

// EvaluateCondition applies one comparison operator. Numeric operators
// coerce both sides to floats; text operators compare the stringified
// values; regex matching is unanchored.
func EvaluateCondition(operator string, left, right any) bool {
	l := Stringify(left)
	r := Stringify(right)

	switch operator {
	case "equals", "eq":
		if lf, rf, ok := bothFloats(left, right); ok {
			return lf == rf
		}
		return l == r
	case "not_equals", "neq":
		return !EvaluateCondition("equals", left, right)
	case "contains":
		return strings.Contains(l, r)
	case "not_contains":
		return !strings.Contains(l, r)
	case "starts_with":
		return strings.HasPrefix(l, r)
	case "ends_with":
		return strings.HasSuffix(l, r)
	case "greater_than", "gt":
		lf, rf, ok := bothFloats(left, right)
		return ok && lf > rf
	case "less_than", "lt":
		lf, rf, ok := bothFloats(left, right)
		return ok && lf < rf
	case "greater_or_equal", "gte":
		lf, rf, ok := bothFloats(left, right)
		return ok && lf >= rf
	case "less_or_equal", "lte":
		lf, rf, ok := bothFloats(left, right)
		return ok && lf <= rf
	case "is_empty":
		return l == ""
	case "is_not_empty":
		return l != ""
	case "regex_match", "matches", "matches_regex":
		re, err := regexp.Compile(r)
		if err != nil {
			return false
		}
		return re.MatchString(l)
	case "in_list":
		return inList(left, right)
	default:
		return false
	}
}

// inList reports whether the left value equals any member of the right-hand
// list. The list may be a JSON array or a comma-separated string.
func inList(left, right any) bool {
	switch list := right.(type) {
	case []any:
		for _, item := range list {
			if EvaluateCondition("equals", left, item) {
				return true
			}
		}
	case []string:
		for _, item := range list {
			if EvaluateCondition("equals", left, item) {
				return true
			}
		}
	case string:
		l := Stringify(left)
		for _, item := range strings.Split(list, ",") {
			if strings.TrimSpace(item) == l {
				return true
			}
		}
	}
	return false
}

// Clause compares one field of a payload or execution context.
type Clause struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// MatchClauses evaluates a clause list against a field lookup. Match "any"
// or "or" succeeds on the first true clause; anything else requires all of
// them. An empty list always matches.
func MatchClauses(match string, clauses []Clause, lookup func(field string) any) bool {
	if len(clauses) == 0 {
		return true
	}
	anyOf := match == "any" || match == "or"
	for _, c := range clauses {
		ok := EvaluateCondition(c.Operator, lookup(c.Field), c.Value)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

func bothFloats(left, right any) (float64, float64, bool) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	return lf, rf, lok && rok
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
