package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "configuration error", err: NewConfigurationError("MAX_RETRIES", "must be positive"), wantCode: "CFG001"},
		{name: "wrapped configuration error", err: fmt.Errorf("startup: %w", &ConfigurationError{Problem: "x"}), wantCode: "CFG001"},
		{name: "unauthorized", err: &AuthError{Status: 401, Err: errors.New("bad token")}, wantCode: "AUTH001"},
		{name: "forbidden", err: &AuthError{Status: 403, Err: errors.New("no share")}, wantCode: "AUTH002"},
		{name: "rate limited", err: &RateLimitError{Err: errors.New("slow down")}, wantCode: "API001"},
		{name: "transient", err: &TransientAPIError{Status: 503, Err: errors.New("unavailable")}, wantCode: "API002"},
		{name: "not found", err: &NotFoundError{Resource: "sheet", ID: "42"}, wantCode: "API003"},
		{name: "validation", err: &ValidationError{Entity: "task", ID: "t1", Field: "Name"}, wantCode: "SRC001"},
		{name: "template pattern", err: errors.New("copy template workspace 9: boom"), wantCode: "CFG002"},
		{name: "connection refused pattern", err: errors.New("dial tcp: connection refused"), wantCode: "NET001"},
		{name: "deadline pattern", err: context.DeadlineExceeded, wantCode: "NET002"},
		{name: "cancelled pattern", err: context.Canceled, wantCode: "RUN001"},
		{name: "case insensitive", err: errors.New("RATE LIMIT hit"), wantCode: "API001"},
		{name: "unknown falls back", err: errors.New("something odd"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, MapError(tt.err).Code)
		})
	}
}

func TestHint(t *testing.T) {
	assert.Empty(t, Hint(nil))
	assert.Empty(t, Hint(errors.New("something odd")))
	assert.Contains(t, Hint(&AuthError{Status: 401, Err: errors.New("x")}), "SMARTSHEET_API_TOKEN")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&NotFoundError{Resource: "workspace"}))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", &NotFoundError{Resource: "sheet"})))
	assert.False(t, IsNotFound(&TransientAPIError{Status: 500, Err: errors.New("x")}))
	assert.False(t, IsNotFound(nil))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 429, StatusOf(fmt.Errorf("wrap: %w", &RateLimitError{Err: errors.New("x")})))
	assert.Equal(t, 502, StatusOf(&TransientAPIError{Status: 502, Err: errors.New("x")}))
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}

func TestUserError(t *testing.T) {
	assert.Nil(t, NewUserError(nil))

	tech := &NotFoundError{Resource: "sheet", ID: "7"}
	ue := NewUserError(tech)
	require.NotNil(t, ue)
	assert.Equal(t, "API003", ue.User.Code)
	assert.Equal(t, ue.User.Message, ue.Error())
	assert.ErrorIs(t, ue, tech)
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(&RateLimitError{Err: errors.New("x")})
	assert.Contains(t, got, "(Code: API001).")
	assert.Empty(t, FormatUserError(nil))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Entity: "task", ID: "abc", Field: "Name", Message: "required"}
	assert.Equal(t, "invalid task abc: Name: required", err.Error())
}

func TestFromStatus(t *testing.T) {
	base := &HTTPError{Status: 0, Body: "x"}
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{401, IsAuth},
		{403, IsAuth},
		{404, IsNotFound},
		{429, func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
		{503, func(err error) bool { var e *TransientAPIError; return errors.As(err, &e) }},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			base.Status = tt.status
			err := FromStatus(tt.status, 0, base)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.status, StatusOf(err))
		})
	}

	plain := &HTTPError{Status: 422, Body: "bad"}
	assert.Same(t, plain, FromStatus(422, 0, plain))
	assert.Equal(t, 422, StatusOf(plain))
}
