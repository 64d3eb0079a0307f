// Package apperr defines the error taxonomy shared by every layer of the
// importer and maps technical failures to user-facing resolution hints.
//
// The taxonomy:
//
//   - ConfigurationError: invalid or missing setting. Fatal, never retried.
//   - ValidationError: a source entity is missing required fields. Fatal for
//     that entity only, unless the entity is the project itself.
//   - AuthError: credential or permission failure from the target API.
//   - RateLimitError: HTTP 429. Retried transparently.
//   - TransientAPIError: 5xx responses. Retried transparently.
//   - NotFoundError: used internally to tell "absent, create it" apart from a
//     real failure. Never surfaced to the end user.
//
// HTTP-derived errors implement [StatusCoder] so the retry classifier can
// inspect the status without knowing the concrete transport.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// StatusOf returns the first HTTP status code found in err's chain, or 0.
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// ConfigurationError reports an invalid or missing setting.
type ConfigurationError struct {
	Setting string
	Problem string
}

func (e *ConfigurationError) Error() string {
	if e.Setting == "" {
		return "configuration error: " + e.Problem
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Problem)
}

// NewConfigurationError returns a ConfigurationError for setting.
func NewConfigurationError(setting, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Problem: fmt.Sprintf(format, args...)}
}

// ValidationError reports a source entity that cannot be imported.
type ValidationError struct {
	Entity  string // "project", "task", "resource", "assignment"
	ID      string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Entity)
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// AuthError wraps a 401/403 response.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed (status %d): %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error   { return e.Err }
func (e *AuthError) StatusCode() int { return e.Status }

// RateLimitError wraps a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error   { return e.Err }
func (e *RateLimitError) StatusCode() int { return http.StatusTooManyRequests }

// TransientAPIError wraps a 5xx response.
type TransientAPIError struct {
	Status int
	Err    error
}

func (e *TransientAPIError) Error() string {
	return fmt.Sprintf("transient api error (status %d): %v", e.Status, e.Err)
}

func (e *TransientAPIError) Unwrap() error   { return e.Err }
func (e *TransientAPIError) StatusCode() int { return e.Status }

// NotFoundError reports that a remote object does not exist.
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	msg := e.Resource + " not found"
	if e.ID != "" {
		msg = fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error   { return e.Err }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// IsNotFound reports whether err means "the object is absent".
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return StatusOf(err) == http.StatusNotFound
}

// IsAuth reports whether err is a credential or permission failure.
func IsAuth(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPError is a non-2xx response with no more specific meaning.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// FromStatus wraps err in the taxonomy type matching status. err should
// describe the response; statuses without a dedicated type return err as is.
func FromStatus(status int, retryAfter time.Duration, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Err: err}
	case status == http.StatusNotFound:
		return &NotFoundError{Resource: "remote object", Err: err}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter, Err: err}
	case status >= 500:
		return &TransientAPIError{Status: status, Err: err}
	}
	return err
}
