package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitution(t *testing.T) {
	out := Render("Hello {{name}}, welcome to {{app_name}}!", map[string]string{
		"name":     "Alice",
		"app_name": "Plume",
	})
	assert.Equal(t, "Hello Alice, welcome to Plume!", out)
}

func TestRenderUnknownVariable(t *testing.T) {
	out := Render("Hello {{name}}!", nil)
	assert.Equal(t, "Hello !", out)
}

func TestRenderDefault(t *testing.T) {
	vars := map[string]string{"name": "Alice"}
	assert.Equal(t, "Hi Alice", Render(`Hi {{name|default:"there"}}`, vars))
	assert.Equal(t, "Hi there", Render(`Hi {{name|default:"there"}}`, nil))
	// falsy values also trigger the default
	assert.Equal(t, "Hi there", Render(`Hi {{name|default:"there"}}`, map[string]string{"name": ""}))
	assert.Equal(t, "Hi there", Render(`Hi {{name|default:"there"}}`, map[string]string{"name": "0"}))
}

func TestRenderConditional(t *testing.T) {
	tpl := `Start{{#if promo}} Use code {{code}}.{{/if}} End`

	out := Render(tpl, map[string]string{"promo": "yes", "code": "SAVE10"})
	assert.Equal(t, "Start Use code SAVE10. End", out)

	for _, v := range []string{"", "0", "false", "False", "null", "None"} {
		out := Render(tpl, map[string]string{"promo": v, "code": "SAVE10"})
		assert.Equal(t, "Start End", out, "value %q should suppress the block", v)
	}
}

func TestRenderNestedConditional(t *testing.T) {
	tpl := `{{#if outer}}A{{#if inner}}B{{/if}}C{{/if}}`
	assert.Equal(t, "ABC", Render(tpl, map[string]string{"outer": "1", "inner": "1"}))
	assert.Equal(t, "AC", Render(tpl, map[string]string{"outer": "1"}))
	assert.Equal(t, "", Render(tpl, map[string]string{"inner": "1"}))

	// sibling blocks pair with their own closer, not each other's
	siblings := `{{#if a}}1{{/if}}-{{#if b}}2{{/if}}`
	assert.Equal(t, "1-", Render(siblings, map[string]string{"a": "1"}))
	assert.Equal(t, "-2", Render(siblings, map[string]string{"b": "1"}))
}

func TestRenderUnbalancedConditional(t *testing.T) {
	out := Render(`{{#if x}}no closer`, map[string]string{"x": "1"})
	assert.Equal(t, "{{#if x}}no closer", out)
}

func TestRenderConditionalBeforeSubstitution(t *testing.T) {
	// a placeholder inside a suppressed block must never render
	tpl := `{{#if show}}secret={{secret}}{{/if}}done`
	out := Render(tpl, map[string]string{"show": "false", "secret": "hunter2"})
	assert.Equal(t, "done", out)
	assert.NotContains(t, out, "hunter2")
}

func TestRenderWhitespaceTolerance(t *testing.T) {
	out := Render("{{ name }} and {{  name}}", map[string]string{"name": "x"})
	assert.Equal(t, "x and x", out)
}

func TestRenderDottedNames(t *testing.T) {
	out := Render("{{user.email}}", map[string]string{"user.email": "a@b.c"})
	assert.Equal(t, "a@b.c", out)
}

func TestRenderEscapedDefault(t *testing.T) {
	out := Render(`{{x|default:"say \"hi\""}}`, nil)
	assert.Equal(t, `say "hi"`, out)
}

func TestVariables(t *testing.T) {
	tpl := `Hello {{name}}, {{#if promo}}{{code}}{{/if}} {{name|default:"x"}}`
	assert.ElementsMatch(t, []string{"name", "promo", "code"}, Variables(tpl))
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, IsTruthy("yes"))
	assert.True(t, IsTruthy("1"))
	assert.False(t, IsTruthy(""))
	assert.False(t, IsTruthy("0"))
	assert.False(t, IsTruthy("false"))
	assert.False(t, IsTruthy("False"))
	assert.False(t, IsTruthy("null"))
	assert.False(t, IsTruthy("None"))
}
