package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ErrRunNotFound returned for unknown run ids
var ErrRunNotFound = fmt.Errorf("run not found")

// MemoryStore in-process progress store
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]RunSummary
	workflows map[string]map[string]WorkflowProgress
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]RunSummary),
		workflows: make(map[string]map[string]WorkflowProgress),
	}
}

// SaveSummary stores a copy of summary
func (m *MemoryStore) SaveSummary(ctx context.Context, summary *RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[summary.RunID] = *summary
	return nil
}

// GetSummary gets a copy of the summary of a run
func (m *MemoryStore) GetSummary(ctx context.Context, runID string) (*RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return &s, nil
}

// ListRuns lists run summaries, newest first
func (m *MemoryStore) ListRuns(ctx context.Context) ([]*RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*RunSummary, 0, len(m.runs))
	for _, s := range m.runs {
		s := s
		runs = append(runs, &s)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// SaveWorkflow stores a copy of wp
func (m *MemoryStore) SaveWorkflow(ctx context.Context, wp *WorkflowProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.workflows[wp.RunID]
	if !ok {
		byName = make(map[string]WorkflowProgress)
		m.workflows[wp.RunID] = byName
	}
	byName[wp.Workflow] = *wp
	return nil
}

// ListWorkflows lists the workflows of a run, sorted by name
func (m *MemoryStore) ListWorkflows(ctx context.Context, runID string) ([]*WorkflowProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	list := make([]*WorkflowProgress, 0, len(m.workflows[runID]))
	for _, wp := range m.workflows[runID] {
		wp := wp
		list = append(list, &wp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Workflow < list[j].Workflow
	})
	return list, nil
}
