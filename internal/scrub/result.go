package scrub

import (
	"sort"
	"time"
)

// Result contains the scrubbing result.
type Result struct {
	// Original is the input content
	Original string `json:"-"`

	// Scrubbed is the content with findings redacted
	Scrubbed string `json:"scrubbed"`

	Findings      []Finding      `json:"findings,omitempty"`
	Duration      time.Duration  `json:"duration"`
	TotalFindings int            `json:"total_findings"`
	ByRule        map[string]int `json:"by_rule,omitempty"`
}

// Finding is one detected identifier. The matched text is deliberately
// not kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	Line        int    `json:"line,omitempty"`
}

func newResult(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

// HasFindings returns true if anything was found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// FindingsBySeverity returns findings filtered by severity.
func (r *Result) FindingsBySeverity(severity string) []Finding {
	var filtered []Finding
	for _, f := range r.Findings {
		if f.Severity == severity {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// RuleIDs returns the sorted unique rule ids that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a brief summary of findings.
func (r *Result) Summary() string {
	switch {
	case !r.HasFindings():
		return "no identifiers detected"
	case len(r.FindingsBySeverity("high")) > 0:
		return "identifiers redacted (high severity)"
	case len(r.FindingsBySeverity("medium")) > 0:
		return "identifiers redacted (medium severity)"
	default:
		return "identifiers redacted"
	}
}
