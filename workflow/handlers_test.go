package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumemail/plume/config"
)

func invocation(config, trigger map[string]any) *Invocation {
	return &Invocation{Config: config, Exec: NewExecContext(trigger, nil)}
}

func TestHandleConditionClauses(t *testing.T) {
	trigger := map[string]any{"subject": "Weekly invoice", "sender": "billing@corp.test"}

	tests := []struct {
		name   string
		config map[string]any
		want   string
	}{
		{
			name: "all match",
			config: map[string]any{
				"conditions": []any{
					map[string]any{"field": "subject", "operator": "contains", "value": "invoice"},
					map[string]any{"field": "sender", "operator": "ends_with", "value": "corp.test"},
				},
			},
			want: "true",
		},
		{
			name: "all with one miss",
			config: map[string]any{
				"conditions": []any{
					map[string]any{"field": "subject", "operator": "contains", "value": "invoice"},
					map[string]any{"field": "sender", "operator": "equals", "value": "other@corp.test"},
				},
			},
			want: "false",
		},
		{
			name: "any with one hit",
			config: map[string]any{
				"logic": "any",
				"conditions": []any{
					map[string]any{"field": "subject", "operator": "equals", "value": "nope"},
					map[string]any{"field": "sender", "operator": "contains", "value": "billing"},
				},
			},
			want: "true",
		},
		{
			name:   "scalar fallback",
			config: map[string]any{"operator": "equals", "left": "a", "right": "a"},
			want:   "true",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := handleCondition(context.Background(), invocation(tc.config, trigger))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out["_output_handle"])
			assert.Equal(t, tc.want == "true", out["result"])
		})
	}
}

func TestHandleWait(t *testing.T) {
	in := invocation(map[string]any{"timeout_minutes": 90, "wait_type": "email_verification"}, nil)
	out, err := handleWait(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, true, out["_suspend"])
	assert.Equal(t, "email_verification", out["wait_type"])
	wake, ok := out["_wake_at"].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(90*time.Minute), wake, 5*time.Second)
}

func TestHandleWaitDefaultTimeout(t *testing.T) {
	out, err := handleWait(context.Background(), invocation(map[string]any{}, nil))
	require.NoError(t, err)

	wake, ok := out["_wake_at"].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), wake, 5*time.Second)
	assert.NotContains(t, out, "wait_type")
}

func TestHandleEndSuccessReturnData(t *testing.T) {
	in := invocation(map[string]any{
		"return_data": map[string]any{"token": "abc", "user_id": float64(7)},
	}, nil)
	out, err := handleEndSuccess(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "success", out["_terminate"])
	assert.Equal(t, "abc", out["token"])
	assert.Equal(t, float64(7), out["user_id"])
}

func TestHandleEndFailure(t *testing.T) {
	in := invocation(map[string]any{
		"error_code":    "invalid_code",
		"error_message": "verification code rejected",
	}, nil)
	out, err := handleEndFailure(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "failed", out["_terminate"])
	assert.Equal(t, "invalid_code", out["error_code"])
	assert.Equal(t, "verification code rejected", out["error_message"])
}

func TestResolveRecipients(t *testing.T) {
	deps := &HandlerDeps{App: &config.AppConfig{SupportEmail: "ops@plume.test"}}
	trigger := map[string]any{"email": "alice@plume.test", "reply_to": "bob@ext.test"}

	tests := []struct {
		name    string
		config  map[string]any
		want    []string
		wantErr bool
	}{
		{
			name:   "trigger user from payload",
			config: map[string]any{"recipient_type": "trigger_user"},
			want:   []string{"alice@plume.test"},
		},
		{
			name:   "form field",
			config: map[string]any{"recipient_type": "form_field", "form_field": "reply_to"},
			want:   []string{"bob@ext.test"},
		},
		{
			name:    "form field missing value",
			config:  map[string]any{"recipient_type": "form_field", "form_field": "absent"},
			wantErr: true,
		},
		{
			name:   "fixed email",
			config: map[string]any{"recipient_type": "fixed_email", "fixed_email": "static@plume.test"},
			want:   []string{"static@plume.test"},
		},
		{
			name:   "admin",
			config: map[string]any{"recipient_type": "admin"},
			want:   []string{"ops@plume.test"},
		},
		{
			name:   "plain to list",
			config: map[string]any{"to": []any{"x@plume.test", "y@plume.test"}},
			want:   []string{"x@plume.test", "y@plume.test"},
		},
		{
			name:    "unknown mode",
			config:  map[string]any{"recipient_type": "carrier_pigeon"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := deps.resolveRecipients(context.Background(), invocation(tc.config, trigger))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAlphanumericCode(t *testing.T) {
	code, err := alphanumericCode(8)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	for _, r := range code {
		assert.True(t, strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", r), "unexpected rune %q", r)
	}

	code, err = alphanumericCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}
