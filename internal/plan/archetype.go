package plan

import (
	"fmt"
	"sort"
)

// Archetype is a named reasoning strategy applied to one lane of the task graph.
type Archetype string

const (
	ArchetypeProcessAuditor          Archetype = "process_auditor"
	ArchetypeExclusionHunter         Archetype = "exclusion_hunter"
	ArchetypePreventabilityDetective Archetype = "preventability_detective"
	ArchetypeDataScavenger           Archetype = "data_scavenger"
	ArchetypeDocumentationInspector  Archetype = "documentation_inspector"
	ArchetypeDelayDriverProfiler     Archetype = "delay_driver_profiler"
)

// MaxArchetypes caps the number of lanes a single plan can fan out to.
const MaxArchetypes = 4

// CanonicalOrder returns every archetype in global priority order.
// Ties between archetypes are always broken by this order.
func CanonicalOrder() []Archetype {
	return []Archetype{
		ArchetypeProcessAuditor,
		ArchetypeExclusionHunter,
		ArchetypePreventabilityDetective,
		ArchetypeDataScavenger,
		ArchetypeDocumentationInspector,
		ArchetypeDelayDriverProfiler,
	}
}

var displayNames = map[Archetype]string{
	ArchetypeProcessAuditor:          "Process_Auditor",
	ArchetypeExclusionHunter:         "Exclusion_Hunter",
	ArchetypePreventabilityDetective: "Preventability_Detective",
	ArchetypeDataScavenger:           "Data_Scavenger",
	ArchetypeDocumentationInspector:  "Documentation_Inspector",
	ArchetypeDelayDriverProfiler:     "Delay_Driver_Profiler",
}

// Priority returns the archetype's position in the canonical order, or -1
// for an unknown archetype.
func (a Archetype) Priority() int {
	for i, c := range CanonicalOrder() {
		if c == a {
			return i
		}
	}
	return -1
}

// Valid reports whether a is one of the closed set of archetypes.
func (a Archetype) Valid() bool {
	return a.Priority() >= 0
}

// DisplayName returns the header form used in rationale segments.
func (a Archetype) DisplayName() string {
	if n, ok := displayNames[a]; ok {
		return n
	}
	return string(a)
}

// ParseArchetype accepts the id form or the display form.
func ParseArchetype(v string) (Archetype, error) {
	for _, a := range CanonicalOrder() {
		if string(a) == v || a.DisplayName() == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown archetype %q", v)
}

// SortArchetypes returns a de-duplicated copy of as in canonical order.
// Discovery order never affects the result.
func SortArchetypes(as []Archetype) []Archetype {
	seen := make(map[Archetype]bool, len(as))
	out := make([]Archetype, 0, len(as))
	for _, a := range as {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}
