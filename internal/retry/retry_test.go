package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }

func opErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
}

// ----------------------------------------------------------------------------
// Classification
// ----------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{name: "429", err: &statusErr{429}, retry: true},
		{name: "500", err: &statusErr{500}, retry: true},
		{name: "502", err: &statusErr{502}, retry: true},
		{name: "503", err: &statusErr{503}, retry: true},
		{name: "504", err: &statusErr{504}, retry: true},
		{name: "ETIMEDOUT", err: opErr(syscall.ETIMEDOUT), retry: true},
		{name: "ECONNREFUSED", err: opErr(syscall.ECONNREFUSED), retry: true},
		{name: "ECONNABORTED", err: opErr(syscall.ECONNABORTED), retry: true},
		{name: "ENOTFOUND", err: &net.DNSError{Err: "no such host", Name: "api.example", IsNotFound: true}, retry: true},
		{name: "ENETUNREACH", err: opErr(syscall.ENETUNREACH), retry: true},
		{name: "unknown error", err: errors.New("mystery"), retry: true},
		{name: "typed rate limit", err: &apperr.RateLimitError{Err: errors.New("x")}, retry: true},
		{name: "typed transient", err: &apperr.TransientAPIError{Status: 503, Err: errors.New("x")}, retry: true},

		{name: "400", err: &statusErr{400}, retry: false},
		{name: "401", err: &statusErr{401}, retry: false},
		{name: "403", err: &statusErr{403}, retry: false},
		{name: "404", err: &statusErr{404}, retry: false},
		{name: "422", err: &statusErr{422}, retry: false},
		{name: "409", err: &statusErr{409}, retry: false},
		{name: "200", err: &statusErr{200}, retry: false},
		{name: "301", err: &statusErr{301}, retry: false},
		{name: "typed not found", err: &apperr.NotFoundError{Resource: "sheet"}, retry: false},
		{name: "typed auth", err: &apperr.AuthError{Status: 401, Err: errors.New("x")}, retry: false},
		{name: "configuration", err: apperr.NewConfigurationError("X", "bad"), retry: false},
		{name: "canceled", err: context.Canceled, retry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retry, Classify(tt.err).Retry)
		})
	}
}

func TestClassify_WrappedStatus(t *testing.T) {
	err := fmt.Errorf("create sheet: %w", &statusErr{503})
	assert.True(t, Classify(err).Retry)

	err = fmt.Errorf("create sheet: %w", &statusErr{400})
	assert.False(t, Classify(err).Retry)
}

// ----------------------------------------------------------------------------
// Executor
// ----------------------------------------------------------------------------

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
	}{
		{name: "zero attempts", p: Policy{MaxAttempts: 0, InitialDelay: time.Second}},
		{name: "negative attempts", p: Policy{MaxAttempts: -1, InitialDelay: time.Second}},
		{name: "zero delay", p: Policy{MaxAttempts: 3, InitialDelay: 0}},
		{name: "negative delay", p: Policy{MaxAttempts: 3, InitialDelay: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			require.Error(t, err)
			assert.True(t, apperr.IsConfiguration(err))
		})
	}
}

func TestNew_DefaultsMaxDelay(t *testing.T) {
	e, err := New(Policy{MaxAttempts: 1, InitialDelay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDelay, e.Policy().MaxDelay)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	e, err := New(fastPolicy(5))
	require.NoError(t, err)

	calls := 0
	err = e.Do(context.Background(), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return &statusErr{503}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedReturnsLastErrorUnchanged(t *testing.T) {
	e, err := New(fastPolicy(3))
	require.NoError(t, err)

	last := &statusErr{429}
	calls := 0
	err = e.Do(context.Background(), "throttled", func(context.Context) error {
		calls++
		return last
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, last, err)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	e, err := New(fastPolicy(5))
	require.NoError(t, err)

	orig := &statusErr{404}
	calls := 0
	err = e.Do(context.Background(), "missing", func(context.Context) error {
		calls++
		return orig
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, orig, err)
}

func TestRun_ReturnsValue(t *testing.T) {
	e, err := New(fastPolicy(2))
	require.NoError(t, err)

	calls := 0
	v, err := Run(context.Background(), e, "value", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("blip")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestTolerating_RetriesNotFound(t *testing.T) {
	e, err := New(fastPolicy(4))
	require.NoError(t, err)

	calls := 0
	err = e.Tolerating(apperr.IsNotFound).Do(context.Background(), "lag", func(context.Context) error {
		calls++
		if calls < 3 {
			return &apperr.NotFoundError{Resource: "workspace"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_IndependentCallsShareNoState(t *testing.T) {
	e, err := New(fastPolicy(2))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		calls := 0
		_ = e.Do(context.Background(), "fresh", func(context.Context) error {
			calls++
			return &statusErr{500}
		})
		assert.Equal(t, 2, calls)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	e, err := New(Policy{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	boom := &statusErr{503}
	calls := 0
	start := time.Now()
	err = e.Do(ctx, "interrupted", func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var se *statusErr
	require.ErrorAs(t, err, &se)
	assert.Same(t, boom, se)
	assert.Equal(t, 1, calls)
	assert.True(t, time.Since(start) < 200*time.Millisecond, "cancel should end the wait")
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	e, err := New(fastPolicy(3))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = e.Do(ctx, "never", func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
