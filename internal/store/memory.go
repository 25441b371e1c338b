package store

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

// Memory is an in-process store holding serialized artifacts.
type Memory struct {
	mu     sync.RWMutex
	plans  map[string][]byte
	closed bool
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{plans: map[string][]byte{}}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, p plan.PlannerPlan) error {
	if p.Metadata.PlanID == "" {
		return ErrInvalidPlan
	}
	data, err := plan.MarshalArtifact(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.plans[p.Metadata.PlanID]; ok {
		return ErrExists
	}
	if parent := p.Metadata.ParentPlanID; parent != "" {
		if _, ok := m.plans[parent]; !ok {
			return ErrMissingParent
		}
	}
	m.plans[p.Metadata.PlanID] = data
	return nil
}

// GetArtifact implements Store.
func (m *Memory) GetArtifact(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, id string) (plan.PlannerPlan, error) {
	data, err := m.GetArtifact(ctx, id)
	if err != nil {
		return plan.PlannerPlan{}, err
	}
	return plan.UnmarshalArtifact(data)
}

// Audit implements Store.
func (m *Memory) Audit(ctx context.Context, id string) ([]plan.StageRecord, error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Audit, nil
}

// Lineage implements Store.
func (m *Memory) Lineage(ctx context.Context, id string) ([]Summary, error) {
	return walkLineage(ctx, id, m.Get)
}

// List implements Store.
func (m *Memory) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.plans))
	for id := range m.plans {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var out []Summary
	for _, id := range ids {
		p, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if s := Summarize(p); matches(s, opts) {
			out = append(out, s)
		}
	}
	return sortAndLimit(out, opts), nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
