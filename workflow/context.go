// Package workflow executes node graphs: a trigger node feeds a queue of
// action, logic, operation and integration nodes connected by edges, with
// per-node results exposed to later nodes through placeholder resolution.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExecContext is the mutable state of one run: the trigger payload, the
// output of every completed step and the effective workflow config. It
// serializes as JSON so suspended runs survive restarts.
type ExecContext struct {
	Trigger map[string]any            `json:"trigger"`
	Steps   map[string]map[string]any `json:"steps"`
	Config  map[string]any            `json:"config"`
}

func NewExecContext(trigger, config map[string]any) *ExecContext {
	if trigger == nil {
		trigger = map[string]any{}
	}
	if config == nil {
		config = map[string]any{}
	}
	return &ExecContext{
		Trigger: trigger,
		Steps:   map[string]map[string]any{},
		Config:  config,
	}
}

// SetStep records a node's output, skipping engine-internal keys.
func (c *ExecContext) SetStep(nodeID string, output map[string]any) {
	clean := make(map[string]any, len(output))
	for k, v := range output {
		if strings.HasPrefix(k, "_") {
			continue
		}
		clean[k] = v
	}
	c.Steps[nodeID] = clean
}

// Lookup resolves a dotted path rooted at trigger, steps or config.
func (c *ExecContext) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var current any
	switch parts[0] {
	case "trigger":
		current = mapValue(c.Trigger, parts[1])
		parts = parts[2:]
	case "config":
		current = mapValue(c.Config, parts[1])
		parts = parts[2:]
	case "steps":
		if len(parts) < 3 {
			return nil, false
		}
		step, ok := c.Steps[parts[1]]
		if !ok {
			return nil, false
		}
		current = mapValue(step, parts[2])
		parts = parts[3:]
	default:
		return nil, false
	}
	for _, p := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current = m[p]
	}
	return current, current != nil
}

// Field resolves a dotted path for condition matching. Explicit trigger,
// steps and config roots are honored; anything else is read out of the
// trigger payload.
func (c *ExecContext) Field(path string) any {
	if v, ok := c.Lookup(path); ok {
		return v
	}
	v, _ := c.Lookup("trigger." + path)
	return v
}

func mapValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// Stringify renders a resolved value for text substitution.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
