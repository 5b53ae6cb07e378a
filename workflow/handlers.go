package workflow

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plumemail/plume/config"
	"github.com/plumemail/plume/consts"
	"github.com/plumemail/plume/db"
	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/mta"
	"github.com/plumemail/plume/sender"
	"github.com/plumemail/plume/template"
)

// Invocation is everything a node handler receives for one step.
type Invocation struct {
	Engine      *Engine
	Node        *db.WorkflowNode
	Config      map[string]any // references already resolved
	Exec        *ExecContext
	UserID      *int64
	ExecutionID int64
}

// HandlerFunc executes one node. The returned map becomes the node's step
// output; keys starting with "_" steer the engine ("_output_handle",
// "_suspend", "_wake_at", "_terminate") and never reach later nodes.
type HandlerFunc func(ctx context.Context, in *Invocation) (map[string]any, error)

// Registry maps node subtypes to handlers.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

func (r *Registry) Register(subtype string, fn HandlerFunc) {
	r.handlers[subtype] = fn
}

// Get returns the handler for a subtype. Unregistered trigger subtypes fall
// back to passing the trigger payload through.
func (r *Registry) Get(subtype string) HandlerFunc {
	if fn, ok := r.handlers[subtype]; ok {
		return fn
	}
	if strings.HasPrefix(subtype, "trigger_") {
		return handleTrigger
	}
	return nil
}

// HandlerDeps carries the services the built-in handlers act on.
type HandlerDeps struct {
	DB          *db.Database
	Sender      *sender.Sender
	Templates   *template.Engine
	Provisioner mta.Provisioner
	App         *config.AppConfig
}

var webhookClient = &http.Client{Timeout: 15 * time.Second}

// DefaultRegistry wires every built-in node subtype.
func DefaultRegistry(deps *HandlerDeps) *Registry {
	r := NewRegistry()

	r.Register("trigger_event", handleTrigger)
	r.Register("trigger_manual", handleTrigger)
	r.Register("trigger_schedule", handleTrigger)

	r.Register("data_generate_code", deps.handleGenerateCode)
	r.Register("data_verify_code", deps.handleVerifyCode)
	r.Register("data_verify_password", deps.handleVerifyPassword)
	r.Register("data_create_user", deps.handleCreateUser)

	r.Register("action_send_template", deps.handleSendTemplate)
	r.Register("action_send_email", deps.handleSendEmail)
	r.Register("action_reply", deps.handleReply)
	r.Register("action_forward", deps.handleForward)

	r.Register("logic_condition", handleCondition)
	r.Register("logic_switch", handleSwitch)
	r.Register("logic_delay", handleDelay)
	r.Register("logic_wait", handleWait)

	r.Register("operation_mark_read", deps.handleMarkRead)
	r.Register("operation_star", deps.handleStar)
	r.Register("operation_move_to_folder", deps.handleMoveToFolder)
	r.Register("operation_archive", deps.handleArchive)
	r.Register("operation_trash", deps.handleTrash)
	r.Register("operation_add_tag", deps.handleAddTag)
	r.Register("operation_remove_tag", deps.handleRemoveTag)
	r.Register("operation_block_sender", deps.handleBlockSender)

	r.Register("integration_webhook", handleWebhook)
	r.Register("integration_log", handleLog)
	r.Register("integration_trigger_workflow", deps.handleTriggerWorkflow)

	r.Register("end_success", handleEndSuccess)
	r.Register("end_failure", handleEndFailure)

	return r
}

func handleTrigger(ctx context.Context, in *Invocation) (map[string]any, error) {
	out := make(map[string]any, len(in.Exec.Trigger))
	for k, v := range in.Exec.Trigger {
		out[k] = v
	}
	return out, nil
}

func (d *HandlerDeps) handleGenerateCode(ctx context.Context, in *Invocation) (map[string]any, error) {
	email := cfgString(in.Config, "email")
	if email == "" {
		return nil, fmt.Errorf("generate_code: missing email")
	}
	purpose := cfgString(in.Config, "purpose")
	if purpose == "" {
		purpose = "verification"
	}
	length := cfgInt(in.Config, "length", 6)
	minutes := cfgInt(in.Config, "expire_minutes", 0)
	if minutes <= 0 {
		minutes = cfgInt(in.Config, "ttl_minutes", 15)
	}
	ttl := time.Duration(minutes) * time.Minute

	var code string
	var err error
	if cfgString(in.Config, "type") == "alphanumeric" {
		code, err = alphanumericCode(length)
	} else {
		code, err = numericCode(length)
	}
	if err != nil {
		return nil, err
	}
	if err := d.DB.CreateVerificationCode(ctx, email, code, purpose, ttl); err != nil {
		return nil, err
	}
	return map[string]any{
		"code":       code,
		"value":      code,
		"email":      email,
		"purpose":    purpose,
		"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	}, nil
}

func (d *HandlerDeps) handleVerifyCode(ctx context.Context, in *Invocation) (map[string]any, error) {
	email := cfgString(in.Config, "email")
	code := cfgString(in.Config, "code")
	purpose := cfgString(in.Config, "purpose")
	if purpose == "" {
		purpose = "verification"
	}
	err := d.DB.ConsumeVerificationCode(ctx, email, code, purpose)
	if err != nil {
		if err == consts.ErrCodeInvalid {
			return map[string]any{"valid": false, "_output_handle": "invalid"}, nil
		}
		return nil, err
	}
	return map[string]any{"valid": true, "_output_handle": "valid"}, nil
}

func (d *HandlerDeps) handleVerifyPassword(ctx context.Context, in *Invocation) (map[string]any, error) {
	email := cfgString(in.Config, "email")
	password := cfgString(in.Config, "password")

	user, err := d.DB.GetUserByEmail(ctx, email)
	if err != nil || db.VerifyPassword(user.PasswordHash, password) != nil {
		return map[string]any{"valid": false, "_output_handle": "invalid"}, nil
	}
	out := map[string]any{
		"valid":          true,
		"user_id":        user.ID,
		"user_email":     user.Email,
		"user_role":      user.Role,
		"_output_handle": "valid",
	}
	if name, ok := user.Preferences["display_name"].(string); ok && name != "" {
		out["user_name"] = name
	}
	return out, nil
}

func (d *HandlerDeps) handleCreateUser(ctx context.Context, in *Invocation) (map[string]any, error) {
	email := cfgString(in.Config, "email")
	password := cfgString(in.Config, "password")
	if email == "" || password == "" {
		return nil, fmt.Errorf("create_user: missing email or password")
	}
	hash, err := db.GenerateBcryptHash(password)
	if err != nil {
		return nil, err
	}
	user, err := d.DB.CreateUser(ctx, email, hash, "user")
	if err != nil {
		return nil, err
	}
	if err := d.Provisioner.CreateMailbox(ctx, user.Email, password); err != nil {
		logger.Error("mailbox provisioning failed", "email", user.Email, "error", err)
	}
	return map[string]any{"user_id": user.ID, "email": user.Email}, nil
}

func (d *HandlerDeps) handleSendTemplate(ctx context.Context, in *Invocation) (map[string]any, error) {
	code := cfgString(in.Config, "template_code")
	if code == "" {
		return nil, fmt.Errorf("send_template: missing template_code")
	}
	to, err := d.resolveRecipients(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("send_template: %w", err)
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("send_template: no recipient resolved")
	}

	vars := map[string]string{}
	if raw, ok := in.Config["variables"].(map[string]any); ok {
		for k, v := range raw {
			vars[k] = Stringify(v)
		}
	}
	rendered, err := d.Templates.RenderTemplate(ctx, code, vars)
	if err != nil {
		return nil, err
	}
	if err := d.Sender.SendSystem(ctx, to, rendered.Subject, rendered.BodyText, rendered.BodyHTML); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": to, "subject": rendered.Subject}, nil
}

// resolveRecipients turns a node's recipient config into addresses. The
// recipient_type modes let stock workflows address the triggering user, a
// field of the trigger payload, a fixed address or the operators; a plain
// "to" list keeps working for pre-resolved config.
func (d *HandlerDeps) resolveRecipients(ctx context.Context, in *Invocation) ([]string, error) {
	switch mode := cfgString(in.Config, "recipient_type"); mode {
	case "trigger_user":
		if addr := Stringify(in.Exec.Trigger["email"]); addr != "" {
			return []string{addr}, nil
		}
		if in.UserID != nil {
			user, err := d.DB.GetUserByID(ctx, *in.UserID)
			if err != nil {
				return nil, err
			}
			return []string{user.Email}, nil
		}
		return nil, fmt.Errorf("no triggering user in scope")
	case "form_field":
		field := cfgString(in.Config, "form_field")
		if field == "" {
			return nil, fmt.Errorf("missing form_field")
		}
		if addr := Stringify(in.Exec.Field(field)); addr != "" {
			return []string{addr}, nil
		}
		return nil, fmt.Errorf("trigger field %q holds no address", field)
	case "fixed_email":
		return cfgStrings(in.Config, "fixed_email"), nil
	case "admin":
		if d.App.SupportEmail == "" {
			return nil, fmt.Errorf("no admin address configured")
		}
		return []string{d.App.SupportEmail}, nil
	case "":
		return cfgStrings(in.Config, "to"), nil
	default:
		return nil, fmt.Errorf("unknown recipient_type %q", mode)
	}
}

func (d *HandlerDeps) handleSendEmail(ctx context.Context, in *Invocation) (map[string]any, error) {
	to := cfgStrings(in.Config, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("send_email: missing to")
	}
	subject := cfgString(in.Config, "subject")
	if err := d.Sender.SendSystem(ctx, to, subject,
		cfgString(in.Config, "body_text"), cfgString(in.Config, "body_html")); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": to}, nil
}

func (d *HandlerDeps) handleReply(ctx context.Context, in *Invocation) (map[string]any, error) {
	user, email, err := d.triggerEmail(ctx, in)
	if err != nil {
		return nil, err
	}
	subject := email.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	refs := ""
	if email.References != nil {
		refs = *email.References
	}
	if email.MessageID != nil {
		refs = strings.TrimSpace(refs + " " + *email.MessageID)
	}
	opts := &sender.ComposeOptions{
		Recipients: []db.Recipient{{Kind: "to", Email: email.Sender}},
		Subject:    subject,
		BodyText:   cfgString(in.Config, "body_text"),
		BodyHTML:   cfgString(in.Config, "body_html"),
		References: refs,
	}
	if email.MessageID != nil {
		opts.InReplyTo = *email.MessageID
	}
	if _, err := d.Sender.Send(ctx, user, opts); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": email.Sender}, nil
}

func (d *HandlerDeps) handleForward(ctx context.Context, in *Invocation) (map[string]any, error) {
	to := cfgStrings(in.Config, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("forward: missing to")
	}
	user, email, err := d.triggerEmail(ctx, in)
	if err != nil {
		return nil, err
	}
	subject := email.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "fwd:") {
		subject = "Fwd: " + subject
	}
	var recipients []db.Recipient
	for _, addr := range to {
		recipients = append(recipients, db.Recipient{Kind: "to", Email: addr})
	}
	if _, err := d.Sender.Send(ctx, user, &sender.ComposeOptions{
		Recipients: recipients,
		Subject:    subject,
		BodyText:   email.BodyText,
		BodyHTML:   email.BodyHTML,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "to": to}, nil
}

// handleCondition evaluates a conditions list against the execution context
// and routes through the "true" or "false" handle. A scalar operator/left/
// right config is accepted for inline comparisons.
func handleCondition(ctx context.Context, in *Invocation) (map[string]any, error) {
	var result bool
	if raw, ok := in.Config["conditions"]; ok {
		clauses, err := parseClauses(raw)
		if err != nil {
			return nil, fmt.Errorf("condition: malformed conditions: %w", err)
		}
		match := cfgString(in.Config, "logic")
		if match == "" {
			match = cfgString(in.Config, "match")
		}
		result = MatchClauses(match, clauses, in.Exec.Field)
	} else {
		result = EvaluateCondition(cfgString(in.Config, "operator"), in.Config["left"], in.Config["right"])
	}
	handle := "false"
	if result {
		handle = "true"
	}
	return map[string]any{"result": result, "_output_handle": handle}, nil
}

func parseClauses(raw any) ([]Clause, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var clauses []Clause
	if err := json.Unmarshal(b, &clauses); err != nil {
		return nil, err
	}
	return clauses, nil
}

func handleSwitch(ctx context.Context, in *Invocation) (map[string]any, error) {
	value := Stringify(in.Config["value"])
	if cases, ok := in.Config["cases"].([]any); ok {
		for _, c := range cases {
			if Stringify(c) == value {
				return map[string]any{"matched": value, "_output_handle": value}, nil
			}
		}
	}
	return map[string]any{"matched": "default", "_output_handle": "default"}, nil
}

func handleDelay(ctx context.Context, in *Invocation) (map[string]any, error) {
	d := cfgDuration(in.Config, 0)
	if d <= 0 {
		return nil, fmt.Errorf("delay: missing or invalid duration")
	}
	return map[string]any{"_suspend": true, "_wake_at": time.Now().Add(d)}, nil
}

// handleWait suspends until an external signal or the timeout. The awaited
// wait_type lands in the node's recorded output so signal delivery can
// correlate the right suspended run.
func handleWait(ctx context.Context, in *Invocation) (map[string]any, error) {
	timeout := cfgDuration(in.Config, 24*time.Hour)
	if m := cfgInt(in.Config, "timeout_minutes", 0); m > 0 {
		timeout = time.Duration(m) * time.Minute
	}
	out := map[string]any{"_suspend": true, "_wake_at": time.Now().Add(timeout)}
	if wt := cfgString(in.Config, "wait_type"); wt != "" {
		out["wait_type"] = wt
	}
	return out, nil
}

func (d *HandlerDeps) handleMarkRead(ctx context.Context, in *Invocation) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	if err := d.DB.SetRead(ctx, userID, emailID, true); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID}, nil
}

func (d *HandlerDeps) handleStar(ctx context.Context, in *Invocation) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	if err := d.DB.SetStarred(ctx, userID, emailID, true); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID}, nil
}

func (d *HandlerDeps) handleArchive(ctx context.Context, in *Invocation) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	if err := d.DB.Archive(ctx, userID, emailID); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID}, nil
}

func (d *HandlerDeps) handleTrash(ctx context.Context, in *Invocation) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	if err := d.DB.Trash(ctx, userID, emailID); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID}, nil
}

func (d *HandlerDeps) handleAddTag(ctx context.Context, in *Invocation) (map[string]any, error) {
	return d.tagOp(ctx, in, d.DB.AddTag)
}

func (d *HandlerDeps) handleRemoveTag(ctx context.Context, in *Invocation) (map[string]any, error) {
	return d.tagOp(ctx, in, d.DB.RemoveTag)
}

func (d *HandlerDeps) tagOp(ctx context.Context, in *Invocation, op func(context.Context, int64, int64, string) error) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	tag := cfgString(in.Config, "tag")
	if tag == "" {
		return nil, fmt.Errorf("tag: missing tag name")
	}
	if err := op(ctx, userID, emailID, tag); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID, "tag": tag}, nil
}

func (d *HandlerDeps) handleMoveToFolder(ctx context.Context, in *Invocation) (map[string]any, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, err
	}
	role := cfgString(in.Config, "folder_role")
	if role == "" {
		return nil, fmt.Errorf("move_to_folder: missing folder_role")
	}
	folder, err := d.DB.GetFolderByRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if err := d.DB.MoveToFolder(ctx, userID, emailID, folder.ID); err != nil {
		return nil, err
	}
	return map[string]any{"email_id": emailID, "folder_id": folder.ID}, nil
}

func (d *HandlerDeps) handleBlockSender(ctx context.Context, in *Invocation) (map[string]any, error) {
	if in.UserID == nil {
		return nil, fmt.Errorf("block_sender: no user in scope")
	}
	address := cfgString(in.Config, "email")
	if address == "" {
		address = Stringify(in.Exec.Trigger["sender"])
	}
	if address == "" {
		return nil, fmt.Errorf("block_sender: missing sender address")
	}
	if _, err := d.DB.AddSenderEntry(ctx, *in.UserID, address, true); err != nil {
		return nil, err
	}
	return map[string]any{"blocked": address}, nil
}

func handleWebhook(ctx context.Context, in *Invocation) (map[string]any, error) {
	url := cfgString(in.Config, "url")
	if url == "" {
		return nil, fmt.Errorf("webhook: missing url")
	}
	payload := in.Config["payload"]
	if payload == nil {
		payload = in.Exec.Trigger
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return map[string]any{"status": resp.StatusCode}, nil
}

func handleLog(ctx context.Context, in *Invocation) (map[string]any, error) {
	message := cfgString(in.Config, "message")
	switch cfgString(in.Config, "level") {
	case "warn":
		logger.Warn(message, "execution_id", in.ExecutionID)
	case "error":
		logger.Error(message, "execution_id", in.ExecutionID)
	default:
		logger.Info(message, "execution_id", in.ExecutionID)
	}
	return map[string]any{"logged": true}, nil
}

func (d *HandlerDeps) handleTriggerWorkflow(ctx context.Context, in *Invocation) (map[string]any, error) {
	code := cfgString(in.Config, "workflow_code")
	if code == "" {
		return nil, fmt.Errorf("trigger_workflow: missing workflow_code")
	}
	wf, err := d.DB.GetSystemWorkflowByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if raw, ok := in.Config["data"].(map[string]any); ok {
		data = raw
	}
	if err := in.Engine.RunSystem(ctx, wf, in.UserID, consts.EventWorkflowTrigger, data); err != nil {
		return nil, err
	}
	return map[string]any{"triggered": code}, nil
}

// handleEndSuccess terminates the run; its resolved return_data becomes the
// execution result.
func handleEndSuccess(ctx context.Context, in *Invocation) (map[string]any, error) {
	out := map[string]any{"_terminate": "success"}
	if data, ok := in.Config["return_data"].(map[string]any); ok {
		for k, v := range data {
			out[k] = v
		}
	}
	return out, nil
}

func handleEndFailure(ctx context.Context, in *Invocation) (map[string]any, error) {
	out := map[string]any{"_terminate": "failed"}
	if code := cfgString(in.Config, "error_code"); code != "" {
		out["error_code"] = code
	}
	if msg := cfgString(in.Config, "error_message"); msg != "" {
		out["error_message"] = msg
	}
	return out, nil
}

// triggerEmail loads the email the run was triggered by, together with its
// owning user.
func (d *HandlerDeps) triggerEmail(ctx context.Context, in *Invocation) (*db.User, *db.Email, error) {
	userID, emailID, err := in.emailTarget()
	if err != nil {
		return nil, nil, err
	}
	user, err := d.DB.GetUserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	email, err := d.DB.GetEmail(ctx, userID, emailID)
	if err != nil {
		return nil, nil, err
	}
	return user, email, nil
}

// emailTarget resolves the (user, email) pair a node operates on, from the
// node config or the trigger payload.
func (in *Invocation) emailTarget() (int64, int64, error) {
	emailID, ok := toInt64(in.Config["email_id"])
	if !ok {
		emailID, ok = toInt64(in.Exec.Trigger["email_id"])
	}
	if !ok {
		return 0, 0, fmt.Errorf("no email in scope")
	}
	if in.UserID != nil {
		return *in.UserID, emailID, nil
	}
	userID, ok := toInt64(in.Exec.Trigger["user_id"])
	if !ok {
		return 0, 0, fmt.Errorf("no user in scope")
	}
	return userID, emailID, nil
}

func cfgString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		return Stringify(v)
	}
	return ""
}

// cfgStrings accepts a single address or a list.
func cfgStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s := Stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func cfgInt(config map[string]any, key string, def int) int {
	if v, ok := toInt64(config[key]); ok {
		return int(v)
	}
	return def
}

// cfgDuration reads either duration_seconds or a Go duration string.
func cfgDuration(config map[string]any, def time.Duration) time.Duration {
	if v, ok := toInt64(config["duration_seconds"]); ok && v > 0 {
		return time.Duration(v) * time.Second
	}
	if v, ok := toInt64(config["timeout_seconds"]); ok && v > 0 {
		return time.Duration(v) * time.Second
	}
	if s, ok := config["duration"].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// numericCode returns a random code of the given number of digits.
func numericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// alphanumericCode returns a random code over an unambiguous uppercase
// alphabet (no 0/O, 1/I).
func alphanumericCode(length int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	if length <= 0 {
		length = 6
	}
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
