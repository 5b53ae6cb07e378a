// Package template implements the lightweight substitution language used by
// system email templates: {{var}} placeholders, {{var|default:"..."}}
// fallbacks and {{#if var}}...{{/if}} blocks.
package template

import (
	"regexp"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*(?:\|\s*default:"((?:[^"\\]|\\.)*)"\s*)?\}\}`)
	ifOpenRe      = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)
	ifCloseRe     = regexp.MustCompile(`\{\{/if\}\}`)
)

// falsy values suppress {{#if}} blocks and trigger defaults.
var falsy = map[string]bool{
	"":      true,
	"0":     true,
	"false": true,
	"False": true,
	"null":  true,
	"None":  true,
}

// IsTruthy reports whether a variable value renders an {{#if}} block.
func IsTruthy(value string) bool {
	return !falsy[value]
}

// Render substitutes variables into the template text. Conditional blocks
// are resolved first so placeholders inside suppressed blocks never render;
// unknown variables without a default become the empty string.
func Render(text string, vars map[string]string) string {
	text = resolveConditionals(text, vars)

	return placeholderRe.ReplaceAllStringFunc(text, func(placeholder string) string {
		m := placeholderRe.FindStringSubmatch(placeholder)
		name, def := m[1], m[2]
		if value, ok := vars[name]; ok && IsTruthy(value) {
			return value
		}
		return unescapeDefault(def)
	})
}

// resolveConditionals expands {{#if}} blocks left to right, pairing each
// opener with the {{/if}} at the same nesting depth. Suppressed blocks are
// dropped wholesale, including any conditionals inside them; kept blocks are
// expanded recursively. An opener with no closer renders literally.
func resolveConditionals(text string, vars map[string]string) string {
	var b strings.Builder
	for {
		loc := ifOpenRe.FindStringSubmatchIndex(text)
		if loc == nil {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:loc[0]])
		name := text[loc[2]:loc[3]]
		body, rest, ok := matchingClose(text[loc[1]:])
		if !ok {
			b.WriteString(text[loc[0]:loc[1]])
			text = text[loc[1]:]
			continue
		}
		if IsTruthy(vars[name]) {
			b.WriteString(resolveConditionals(body, vars))
		}
		text = rest
	}
}

// matchingClose scans for the {{/if}} closing an already-open block,
// counting nested openers along the way.
func matchingClose(s string) (body, rest string, ok bool) {
	depth := 1
	off := 0
	for {
		openLoc := ifOpenRe.FindStringIndex(s[off:])
		closeLoc := ifCloseRe.FindStringIndex(s[off:])
		if closeLoc == nil {
			return "", "", false
		}
		if openLoc != nil && openLoc[0] < closeLoc[0] {
			depth++
			off += openLoc[1]
			continue
		}
		depth--
		if depth == 0 {
			return s[:off+closeLoc[0]], s[off+closeLoc[1]:], true
		}
		off += closeLoc[1]
	}
}

func unescapeDefault(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Variables lists the distinct variable names referenced by a template,
// both in placeholders and conditionals.
func Variables(text string) []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range ifOpenRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return names
}
