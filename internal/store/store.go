// Package store persists plan artifacts and their revision lineage.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

var (
	// ErrNotFound is returned when a plan id is unknown.
	ErrNotFound = errors.New("plan not found")

	// ErrExists is returned when saving a plan id that is already stored.
	// Plans are immutable; a revision is saved under a new id.
	ErrExists = errors.New("plan already stored")

	// ErrMissingParent is returned when a revision's parent is not stored.
	ErrMissingParent = errors.New("parent plan not stored")

	// ErrInvalidPlan is returned for plans without an id.
	ErrInvalidPlan = errors.New("plan has no id")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// maxLineageDepth bounds parent walks in backends without recursive queries.
const maxLineageDepth = 1000

// Summary is the listing view of a stored plan.
type Summary struct {
	PlanID        string        `json:"plan_id"`
	ParentPlanID  string        `json:"parent_plan_id,omitempty"`
	PlanningID    string        `json:"planning_id"`
	Concern       string        `json:"concern"`
	Domain        plan.DomainID `json:"domain"`
	SchemaVersion string        `json:"schema_version"`
	GateDecision  plan.Decision `json:"gate_decision"`
	RevisionScope string        `json:"revision_scope,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Summarize returns the listing view of p.
func Summarize(p plan.PlannerPlan) Summary {
	s := Summary{
		PlanID:        p.Metadata.PlanID,
		ParentPlanID:  p.Metadata.ParentPlanID,
		PlanningID:    p.Metadata.PlanningID,
		Concern:       p.Metadata.Concern,
		Domain:        p.Metadata.Domain,
		SchemaVersion: p.Metadata.SchemaVersion,
		GateDecision:  p.Metadata.GateDecision,
		CreatedAt:     p.Metadata.CreatedAt,
	}
	if p.Metadata.Revision != nil {
		s.RevisionScope = p.Metadata.Revision.Scope
	}
	return s
}

// ListOptions filters List.
type ListOptions struct {
	PlanningID string
	Limit      int
}

// Store persists plans. Implementations are safe for concurrent use.
type Store interface {
	// Save stores p. The plan's parent, if any, must already be stored.
	Save(ctx context.Context, p plan.PlannerPlan) error

	// Get returns the plan with id.
	Get(ctx context.Context, id string) (plan.PlannerPlan, error)

	// GetArtifact returns the persisted artifact bytes of id.
	GetArtifact(ctx context.Context, id string) ([]byte, error)

	// Audit returns the stage records saved with id.
	Audit(ctx context.Context, id string) ([]plan.StageRecord, error)

	// Lineage returns the revision chain ending at id, root first.
	Lineage(ctx context.Context, id string) ([]Summary, error)

	// List returns stored plans, newest first.
	List(ctx context.Context, opts ListOptions) ([]Summary, error)

	// Close releases resources.
	Close() error
}

// walkLineage follows parent pointers from id using get.
func walkLineage(ctx context.Context, id string, get func(context.Context, string) (plan.PlannerPlan, error)) ([]Summary, error) {
	var chain []Summary
	seen := map[string]bool{}
	for cur := id; cur != "" && len(chain) < maxLineageDepth; {
		if seen[cur] {
			break
		}
		seen[cur] = true
		p, err := get(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, Summarize(p))
		cur = p.Metadata.ParentPlanID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func sortAndLimit(out []Summary, opts ListOptions) []Summary {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PlanID < out[j].PlanID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func matches(s Summary, opts ListOptions) bool {
	return opts.PlanningID == "" || s.PlanningID == opts.PlanningID
}
