package workflow

import (
	"regexp"
	"strings"
)

var refRe = regexp.MustCompile(`\{\{\s*((?:trigger|steps|config)\.[a-zA-Z0-9_.-]+)\s*\}\}`)

// ResolveString substitutes {{trigger.x}}, {{steps.node.x}} and
// {{config.x}} references. A string that is exactly one reference keeps the
// referenced value's type; mixed text stringifies each reference.
func ResolveString(s string, execCtx *ExecContext) any {
	m := refRe.FindStringSubmatch(s)
	if m != nil && strings.TrimSpace(s) == m[0] {
		if v, ok := execCtx.Lookup(m[1]); ok {
			return v
		}
		return ""
	}
	return refRe.ReplaceAllStringFunc(s, func(ref string) string {
		path := refRe.FindStringSubmatch(ref)[1]
		v, _ := execCtx.Lookup(path)
		return Stringify(v)
	})
}

// ResolveValue walks any JSON-shaped value, resolving references inside
// strings, maps and slices.
func ResolveValue(v any, execCtx *ExecContext) any {
	switch t := v.(type) {
	case string:
		return ResolveString(t, execCtx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = ResolveValue(inner, execCtx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = ResolveValue(inner, execCtx)
		}
		return out
	default:
		return v
	}
}

// ResolveConfig resolves every reference inside a node config.
func ResolveConfig(config map[string]any, execCtx *ExecContext) map[string]any {
	out, _ := ResolveValue(config, execCtx).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
