package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
)

// ImportRetention is how long a finished background import stays queryable
// in memory. The ledger keeps the run after that.
var ImportRetention = 5 * time.Minute

// activeImport is an import running in the background.
type activeImport struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	result    *ImportResult
	err       error
	listeners []chan ImportProgress
}

func (a *activeImport) update(p ImportProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = p
	a.broadcastLocked()
}

// broadcastLocked sends the current progress to every listener that is
// keeping up. Slow listeners miss intermediate snapshots.
func (a *activeImport) broadcastLocked() {
	for _, ch := range a.listeners {
		select {
		case ch <- a.progress:
		default:
		}
	}
}

func (a *activeImport) finish(res *ImportResult, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.result = res
	a.err = err
	switch {
	case err == nil:
		a.progress.Phase = PhaseComplete
	case errors.Is(err, context.Canceled):
		a.progress.Phase = PhaseCancelled
		a.progress.Error = apperr.FormatUserError(err)
	default:
		a.progress.Phase = PhaseFailed
		a.progress.Error = apperr.FormatUserError(err)
	}
	// The terminal snapshot must reach every listener, so a full buffer
	// gives up its oldest entry.
	for _, ch := range a.listeners {
		select {
		case ch <- a.progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- a.progress
		}
		close(ch)
	}
	a.listeners = nil
	close(a.done)
}

func (a *activeImport) snapshot() ImportProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// StartImport runs an import in the background and returns its run id
// immediately. It waits for an import slot first and returns
// ErrTooManyImports when none frees up in time.
//
// The import outlives ctx; only its values (such as the logger) are kept.
func (o *Orchestrator) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if err := o.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	run := o.newRun(req)
	var (
		importCtx context.Context
		cancel    context.CancelFunc
	)
	if o.opts.Timeout > 0 {
		importCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.opts.Timeout)
	} else {
		importCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	ai := &activeImport{
		runID:  run.ID,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: ImportProgress{
			RunID:     run.ID,
			ProjectID: req.ProjectID,
			Phase:     PhaseQueued,
			Stage:     StageStart,
		},
	}

	o.mu.Lock()
	o.imports[run.ID] = ai
	o.mu.Unlock()

	go func() {
		defer o.limiter.Release()
		defer cancel()
		defer o.forget(run.ID, ImportRetention)
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(importCtx).Error("panic in import",
					zap.String("run_id", run.ID),
					zap.String("project_id", req.ProjectID),
					zap.Any("panic", r))
				ai.finish(nil, fmt.Errorf("internal error: %v", r))
			}
		}()

		res, err := o.execute(importCtx, run, req, ai.update)
		ai.finish(res, err)
	}()

	return run.ID, nil
}

func (o *Orchestrator) forget(runID string, after time.Duration) {
	time.AfterFunc(after, func() {
		o.mu.Lock()
		delete(o.imports, runID)
		o.mu.Unlock()
	})
}

func (o *Orchestrator) active(runID string) (*activeImport, error) {
	o.mu.RLock()
	ai, ok := o.imports[runID]
	o.mu.RUnlock()
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "import", ID: runID}
	}
	return ai, nil
}

// Progress returns the latest progress of a background import.
func (o *Orchestrator) Progress(runID string) (ImportProgress, error) {
	ai, err := o.active(runID)
	if err != nil {
		return ImportProgress{}, err
	}
	return ai.snapshot(), nil
}

// Subscribe returns a channel of progress snapshots. It is closed when the
// import finishes.
func (o *Orchestrator) Subscribe(runID string) (<-chan ImportProgress, error) {
	ai, err := o.active(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)
	ai.mu.Lock()
	defer ai.mu.Unlock()
	ch <- ai.progress
	select {
	case <-ai.done:
		close(ch)
	default:
		ai.listeners = append(ai.listeners, ch)
	}
	return ch, nil
}

// Wait blocks until the import finishes and returns its result.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*ImportResult, error) {
	ai, err := o.active(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-ai.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.result, ai.err
}

// Cancel stops a background import. Stages already finished stay done.
func (o *Orchestrator) Cancel(runID string) error {
	ai, err := o.active(runID)
	if err != nil {
		return err
	}
	ai.cancel()
	return nil
}

// ActiveImports returns the progress of every import still held in memory,
// sorted by project id.
func (o *Orchestrator) ActiveImports() []ImportProgress {
	o.mu.RLock()
	list := make([]*activeImport, 0, len(o.imports))
	for _, ai := range o.imports {
		list = append(list, ai)
	}
	o.mu.RUnlock()

	out := make([]ImportProgress, len(list))
	for i, ai := range list {
		out[i] = ai.snapshot()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}
