package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

func TestImportLimiter_AcquireRelease(t *testing.T) {
	l := NewImportLimiter(2, time.Second)
	ctx := context.Background()

	assert.Equal(t, 0, l.ActiveCount())
	assert.Equal(t, 2, l.Available())

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.ActiveCount())
	assert.Equal(t, 0, l.Available())

	l.Release()
	assert.Equal(t, 1, l.ActiveCount())
	assert.Equal(t, 1, l.Available())

	l.Release()
	assert.Equal(t, 0, l.ActiveCount())
}

func TestImportLimiter_TimesOutWhenFull(t *testing.T) {
	l := NewImportLimiter(1, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	defer l.Release()

	start := time.Now()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrTooManyImports)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, "RUN002", apperr.MapError(err).Code)
}

func TestImportLimiter_ContextCancelled(t *testing.T) {
	l := NewImportLimiter(1, time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestImportLimiter_TryAcquire(t *testing.T) {
	l := NewImportLimiter(1, time.Second)

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestImportLimiter_NeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	l := NewImportLimiter(maxConcurrent, time.Second)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		peak int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer l.Release()

			mu.Lock()
			peak = max(peak, l.ActiveCount())
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, maxConcurrent)
	assert.Equal(t, 0, l.ActiveCount())
}

func TestImportLimiter_WaitForDrain(t *testing.T) {
	l := NewImportLimiter(2, time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, l.WaitForDrain(ctx))
}

func TestImportLimiter_WaitForDrainTimeout(t *testing.T) {
	l := NewImportLimiter(1, time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitForDrain(ctx), context.DeadlineExceeded)
}

func TestImportLimiter_Defaults(t *testing.T) {
	l := NewImportLimiter(0, 0)
	assert.Equal(t, DefaultMaxConcurrentImports, l.MaxConcurrent())
	assert.Equal(t, ImportLimiterStatus{Active: 0, Available: 2, MaxConcurrent: 2}, l.Status())
}
