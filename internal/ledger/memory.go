package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	stages   map[string][]StageRecord
	mappings map[string]Mapping
	closed   bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]*Run),
		stages:   make(map[string][]StageRecord),
		mappings: make(map[string]Mapping),
	}
}

func (m *Memory) CreateRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	cp := *run
	cp.Stages = nil
	m.runs[run.ID] = &cp
	return nil
}

func (m *Memory) FinishRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[run.ID]
	if !ok {
		return runNotFound(run.ID)
	}
	cur.Status = run.Status
	cur.Stage = run.Stage
	cur.Error = run.Error
	cur.ProjectName = run.ProjectName
	cur.WorkspaceID = run.WorkspaceID
	cur.RowsWritten = run.RowsWritten
	cur.RowsSkipped = run.RowsSkipped
	cur.FinishedAt = run.FinishedAt
	return nil
}

func (m *Memory) RecordStage(_ context.Context, rec StageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.RunID]; !ok {
		return runNotFound(rec.RunID)
	}
	m.stages[rec.RunID] = append(m.stages[rec.RunID], rec)
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, runNotFound(id)
	}
	cp := *r
	cp.Stages = append([]StageRecord(nil), m.stages[id]...)
	return &cp, nil
}

func (m *Memory) ListRuns(_ context.Context, opts ListOptions) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.ProjectID != "" && r.ProjectID != opts.ProjectID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	if limit := defaultLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetMapping(_ context.Context, projectID string) (*Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.mappings[projectID]
	if !ok {
		return nil, mappingNotFound(projectID)
	}
	return &mp, nil
}

func (m *Memory) PutMapping(_ context.Context, mp Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mp.UpdatedAt.IsZero() {
		mp.UpdatedAt = time.Now().UTC()
	}
	m.mappings[mp.ProjectID] = mp
	return nil
}

func (m *Memory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if r.FinishedAt != nil && r.StartedAt.Before(cutoff) {
			delete(m.runs, id)
			delete(m.stages, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Nop discards everything. Lookups always miss.
type Nop struct{}

func (Nop) CreateRun(context.Context, *Run) error { return nil }
func (Nop) FinishRun(context.Context, *Run) error { return nil }
func (Nop) RecordStage(context.Context, StageRecord) error { return nil }
func (Nop) GetRun(_ context.Context, id string) (*Run, error) {
	return nil, runNotFound(id)
}
func (Nop) ListRuns(context.Context, ListOptions) ([]Run, error) { return nil, nil }
func (Nop) GetMapping(_ context.Context, projectID string) (*Mapping, error) {
	return nil, mappingNotFound(projectID)
}
func (Nop) PutMapping(context.Context, Mapping) error { return nil }
func (Nop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (Nop) Close() error { return nil }
