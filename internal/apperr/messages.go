package apperr

// # Error Codes Reference
//
// Codes are grouped by category so operators can quote them when asking for
// help:
//
//	CFG001 - Invalid configuration        (ConfigurationError)
//	CFG002 - Template workspace unusable  ("template")
//	AUTH001 - Target API rejected token   (AuthError 401)
//	AUTH002 - Insufficient permission     (AuthError 403)
//	API001 - Rate limited                 (RateLimitError, "rate limit")
//	API002 - Target service unavailable   (TransientAPIError)
//	API003 - Object not found             (NotFoundError)
//	NET001 - Connection refused           ("connection refused")
//	NET002 - Timed out                    ("timeout", "deadline exceeded")
//	SRC001 - Source entity invalid        (ValidationError)
//	SRC002 - Source returned no project   ("source project")
//	RUN001 - Import cancelled             ("context canceled")
//	RUN002 - Too many imports in progress ("too many imports")
//	ERR000 - Unknown error
//
// Typed errors are matched first. Message patterns are matched
// case-insensitively with strings.Contains and the first match wins.

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgConfig = UserMessage{
		Message: "The importer is not configured correctly",
		Action:  "Check the reported setting in your environment or .env file",
		Code:    "CFG001",
	}
	msgAuthToken = UserMessage{
		Message: "The target API rejected the access token",
		Action:  "Generate a new API token and set SMARTSHEET_API_TOKEN",
		Code:    "AUTH001",
	}
	msgAuthPerm = UserMessage{
		Message: "The access token lacks permission for this operation",
		Action:  "Ask a workspace admin to share the workspace with the token owner",
		Code:    "AUTH002",
	}
	msgRateLimit = UserMessage{
		Message: "The target API is throttling requests",
		Action:  "Lower RATE_LIMIT_REQUESTS_PER_MINUTE or wait a minute before retrying",
		Code:    "API001",
	}
	msgTransient = UserMessage{
		Message: "The target service is temporarily unavailable",
		Action:  "Re-run the import; completed work is reused",
		Code:    "API002",
	}
	msgNotFound = UserMessage{
		Message: "A referenced object no longer exists",
		Action:  "Verify workspace and template IDs are still valid",
		Code:    "API003",
	}
	msgSourceMissing = UserMessage{
		Message: "The project does not exist in Project Online",
		Action:  "Check the project ID and the PROJECT_ONLINE_URL site",
		Code:    "SRC002",
	}
	msgValidation = UserMessage{
		Message: "The source data contains an invalid entity",
		Action:  "Fix the entity in Project Online or exclude it from the import",
		Code:    "SRC001",
	}
)

var errorPatterns = []errorPattern{
	{
		pattern: "template",
		msg: UserMessage{
			Message: "The template workspace could not be copied",
			Action:  "Verify TEMPLATE_WORKSPACE_ID or leave it blank to create blank workspaces",
			Code:    "CFG002",
		},
	},
	{pattern: "rate limit", msg: msgRateLimit},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the remote service",
			Action:  "Check network access and the configured base URL",
			Code:    "NET001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Please try again; large projects may need a longer timeout",
			Code:    "NET002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Please try again; large projects may need a longer timeout",
			Code:    "NET002",
		},
	},
	{pattern: "source project", msg: msgSourceMissing},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Re-run the import when ready; completed work is reused",
			Code:    "RUN001",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports are already running",
			Action:  "Please wait for a running import to finish",
			Code:    "RUN002",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the technical error",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		ce *ConfigurationError
		ve *ValidationError
		re *RateLimitError
		te *TransientAPIError
	)
	switch {
	case errors.As(err, &ce):
		return msgConfig, true
	case errors.As(err, &ve):
		return msgValidation, true
	case errors.As(err, &re):
		return msgRateLimit, true
	case errors.As(err, &te):
		return msgTransient, true
	case IsAuth(err):
		if StatusOf(err) == http.StatusForbidden {
			return msgAuthPerm, true
		}
		return msgAuthToken, true
	case IsNotFound(err):
		if strings.Contains(err.Error(), "source project") {
			return msgSourceMissing, true
		}
		return msgNotFound, true
	}
	return UserMessage{}, false
}

// Hint returns the resolution hint for err, or "" when nothing specific is known.
func Hint(err error) string {
	msg := MapError(err)
	if msg.Code == "" || msg.Code == defaultMessage.Code {
		return ""
	}
	return msg.Action
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError keeps the technical error for logging while exposing a clean message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
