// Package ratelimit bounds the number of outbound requests per time window.
// Every call to the target API waits on a Limiter before it is issued.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks until a request may be issued or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(context.Context) error { return nil }

// Window is an in-process sliding window: at most limit requests in any
// span of length window. Safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewWindow returns a sliding window limiter.
func NewWindow(limit int, window time.Duration) *Window {
	return &Window{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// PerMinute is shorthand for NewWindow(n, time.Minute).
func PerMinute(n int) *Window {
	return NewWindow(n, time.Minute)
}

// Wait reserves a slot, sleeping until the oldest request leaves the window
// when the budget is spent.
func (w *Window) Wait(ctx context.Context) error {
	for {
		delay := w.reserve()
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records a request and returns 0, or returns how long to wait.
func (w *Window) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]

	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0
	}

	return w.stamps[0].Add(w.window).Sub(now)
}

// InFlight returns the number of requests counted in the current window.
func (w *Window) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	n := 0
	for _, s := range w.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
