package consts

// Event codes published on the event bus. Workflows subscribe by
// trigger_event, automation rules by trigger_type.
const (
	EventUserRegistered       = "user.registered"
	EventEmailReceived        = "email.received"
	EventEmailSent            = "email.sent"
	EventPasswordForgot       = "password.forgot"
	EventVerificationSubmitted = "verification.submitted"
	EventVerificationCode     = "verification.code_received"
	EventWorkflowTrigger      = "workflow.trigger"
)
