// Package retry executes remote operations with exponential backoff,
// retrying only failures that Classify marks as transient.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
)

// DefaultMaxDelay caps the delay between attempts when Policy.MaxDelay is unset.
const DefaultMaxDelay = 30 * time.Second

// Policy configures an Executor.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Executor runs operations under a Policy. It holds no per-call state and is
// safe for concurrent use.
type Executor struct {
	policy Policy
	extra  func(error) bool
}

// New validates p and returns an Executor.
func New(p Policy) (*Executor, error) {
	if p.MaxAttempts <= 0 {
		return nil, apperr.NewConfigurationError("RETRY_MAX_ATTEMPTS", "must be positive, got %d", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return nil, apperr.NewConfigurationError("RETRY_INITIAL_DELAY", "must be positive, got %s", p.InitialDelay)
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return &Executor{policy: p}, nil
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// Tolerating returns a copy of e that additionally retries errors matching
// pred. Lookups of objects that were just created use this to ride out the
// target API's eventual consistency.
func (e *Executor) Tolerating(pred func(error) bool) *Executor {
	prev := e.extra
	return &Executor{
		policy: e.policy,
		extra: func(err error) bool {
			return pred(err) || (prev != nil && prev(err))
		},
	}
}

// Do runs op until it succeeds, fails permanently or the attempts run out.
// The returned error is the last error from op, never wrapped.
func (e *Executor) Do(ctx context.Context, name string, op func(context.Context) error) error {
	_, err := Run(ctx, e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run is the value-returning form of Do.
func Run[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	log := logging.FromContext(ctx).With(zap.String("op", name))

	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.policy.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.policy.MaxDelay,
	}

	attempt := 0
	var last error
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if !e.shouldRetry(err) {
			return v, backoff.Permanent(err)
		}
		var rl *apperr.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			return v, backoff.RetryAfter(int(math.Ceil(rl.RetryAfter.Seconds())))
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.policy.MaxAttempts),
				zap.Duration("delay", d),
				zap.String("reason", Classify(err).Reason),
				zap.Error(err),
			)
		}),
	)
	if err == nil {
		return res, nil
	}

	// A cancelled wait surfaces as the context error, joined with the op
	// error that caused the wait.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if last != nil && !errors.Is(last, ctxErr) {
			return res, errors.Join(ctxErr, last)
		}
		return res, ctxErr
	}

	// backoff reports Retry-After waits as its own type; callers see the op
	// error.
	if last != nil {
		err = last
	}

	if attempt >= e.policy.MaxAttempts && e.shouldRetry(err) {
		log.Error("retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
	}
	return res, err
}

func (e *Executor) shouldRetry(err error) bool {
	if e.extra != nil && e.extra(err) {
		return true
	}
	return Classify(err).Retry
}
