// Package intake implements S0: it validates a raw planning input and
// produces the immutable NormalizedRequest every later stage consumes.
package intake

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// Issue codes emitted by S0.
const (
	CodeMissingConcern        = "missing_concern"
	CodeUnknownDifferentiator = "unknown_differentiator"
	CodeUnknownDomainHint     = "unknown_domain_hint"
	CodeMissingIntent         = "missing_intent"
	CodeInvalidRank           = "invalid_rank"
	CodeMissingPopulation     = "missing_target_population"
)

// Normalizer turns PlanningInput into a NormalizedRequest.
type Normalizer struct {
	reg   *registry.Registry
	newID func() string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithIDGenerator overrides planning id generation.
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) {
		n.newID = fn
	}
}

// New creates a normalizer reading differentiator synonyms from reg.
func New(reg *registry.Registry, opts ...Option) *Normalizer {
	n := &Normalizer{reg: reg, newID: uuid.NewString}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates in and returns the normalized request along with the
// stage's findings. The request is returned even when a structural error is
// present so the audit trail can show what was received.
func (n *Normalizer) Normalize(in plan.PlanningInput) (plan.NormalizedRequest, plan.ValidationResult) {
	f := plan.NewFindings(plan.StageIntake)

	req := plan.NormalizedRequest{
		PlanningID:       strings.TrimSpace(in.PlanningID),
		Concern:          normalizeConcern(in.Concern),
		Intent:           strings.TrimSpace(in.Intent),
		TargetPopulation: strings.TrimSpace(in.TargetPopulation),
		Objective:        strings.TrimSpace(in.ClinicalContext.Objective),
		Requirements:     trimAll(in.SpecificRequirements),
		Frameworks:       trimAll(in.ClinicalContext.RegulatoryFrameworks),
		DataSources:      trimAll(in.DataProfile.Sources),
	}
	if req.PlanningID == "" {
		req.PlanningID = n.newID()
	}

	if req.Concern == "" {
		f.Add(plan.TierStructural, plan.Issue{Code: CodeMissingConcern, Message: "concern is required", Path: "concern"})
	}

	if hint := strings.TrimSpace(in.DomainHint); hint != "" {
		if d, ok := n.reg.ResolveDomain("", hint); ok {
			req.DomainHint = string(d.ID)
		} else {
			f.Add(plan.TierSemantic, plan.Issue{
				Code:    CodeUnknownDomainHint,
				Message: "domain hint " + hint + " is not a registered domain; ignored",
				Path:    "domain_hint",
			})
		}
	}

	diffs := map[string]bool{}
	for _, raw := range in.Differentiators {
		n.addDifferentiator(f, diffs, raw, "differentiators")
	}
	for _, r := range req.Requirements {
		for _, id := range n.reg.MatchDifferentiators(r) {
			diffs[id] = true
		}
	}
	if in.SemanticPacket != nil {
		packet := in.SemanticPacket.Clone()
		for _, raw := range packet.Differentiators {
			n.addDifferentiator(f, diffs, raw, "semantic_packet.differentiators")
		}
		req.Packet = &packet
	}
	req.Differentiators = make([]string, 0, len(diffs))
	for id := range diffs {
		req.Differentiators = append(req.Differentiators, id)
	}
	sort.Strings(req.Differentiators)

	if in.Ranking != nil {
		if in.Ranking.Rank <= 0 {
			f.Add(plan.TierSemantic, plan.Issue{
				Code:    CodeInvalidRank,
				Message: "ranking.rank must be positive; ranking input ignored",
				Path:    "ranking.rank",
			})
		} else {
			rk := *in.Ranking
			rk.Source = strings.TrimSpace(rk.Source)
			rk.SignalEmphasis = trimAll(in.Ranking.SignalEmphasis)
			req.Ranking = &rk
		}
	}

	if req.Intent == "" {
		f.Add(plan.TierSemantic, plan.Issue{Code: CodeMissingIntent, Message: "intent not provided", Path: "intent"})
	}
	if req.TargetPopulation == "" {
		f.Add(plan.TierClinical, plan.Issue{Code: CodeMissingPopulation, Message: "target population not provided", Path: "target_population"})
	}

	return req, f.Result()
}

func (n *Normalizer) addDifferentiator(f *plan.Findings, set map[string]bool, raw, path string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	id, ok := n.reg.CanonicalDifferentiator(raw)
	if !ok {
		f.Add(plan.TierSemantic, plan.Issue{
			Code:    CodeUnknownDifferentiator,
			Message: "differentiator " + raw + " is not registered; dropped",
			Path:    path,
		})
		return
	}
	set[id] = true
}

func normalizeConcern(c string) string {
	return strings.ToUpper(strings.Join(strings.Fields(c), " "))
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
