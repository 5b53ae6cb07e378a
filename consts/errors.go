package consts

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrFolderNotFound    = errors.New("folder not found")
	ErrEmailNotFound     = errors.New("email not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrAttachmentNotFound = errors.New("attachment not found")

	ErrUserExists       = errors.New("user already exists")
	ErrMessageExists    = errors.New("message already exists")
	ErrMalformedMessage = errors.New("malformed message")
	ErrNotPermitted     = errors.New("operation not permitted")
	ErrInvalidState     = errors.New("invalid delivery state for operation")
	ErrCodeInvalid      = errors.New("verification code invalid or expired")

	ErrDBNotFound        = errors.New("not found")
	ErrDBUniqueViolation = errors.New("unique violation")
	ErrDBInsertFailed    = errors.New("insert failed")
)
