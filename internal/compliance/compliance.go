// Package compliance is the external checklist run against a persisted plan
// artifact. It reads bytes, not pipeline state, and is stricter than the
// in-pipeline gates: every failure it reports is structural.
package compliance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/registry"
)

// Check names in evaluation order.
const (
	CheckRootObject            = "root_object"
	CheckRequiredSections      = "required_sections"
	CheckSignalGroupIDs        = "signal_group_ids"
	CheckSignalProvenance      = "signal_provenance"
	CheckRuleProvenance        = "rule_provenance"
	CheckPlaceholderText       = "placeholder_text"
	CheckSignalFields          = "signal_fields"
	CheckQuestionsShape        = "questions_shape"
	CheckVersionMatch          = "version_match"
	CheckRationaleCompleteness = "rationale_completeness"
)

// RequiredSections must be present under the artifact root.
var RequiredSections = []string{
	"metadata", "rationale", "signal_groups", "criteria", "questions", "phases", "prompts", "validation",
}

var placeholderPattern = regexp.MustCompile(`(?i)\b(TODO|TBD|FIXME|lorem ipsum)\b|\[(placeholder|engine error)[^\]]*\]|<[A-Z][A-Z_]{2,}>`)

// sections scanned for placeholder text.
var scannedSections = []string{"rationale", "signal_groups", "criteria", "questions", "phases", "prompts", "references"}

type checkFunc func(*document) []string

type check struct {
	name   string
	weight int
	run    checkFunc
}

// CheckResult is the outcome of one checklist item.
type CheckResult struct {
	Name   string   `json:"name"`
	Weight int      `json:"weight"`
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

// Report is the validator output. IsValid depends only on Errors; Score is
// the sum of the weights of passing checks.
type Report struct {
	IsValid bool          `json:"is_valid"`
	Score   int           `json:"score"`
	Checks  []CheckResult `json:"checks"`
	Errors  []string      `json:"errors"`
}

// Failed returns the names of failing checks.
func (r Report) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Validator runs the frozen checklist.
type Validator struct {
	reg     *registry.Registry
	version *semver.Version
	checks  []check
}

// New creates a validator that expects plans stamped with version. An empty
// version means the current schema version.
func New(reg *registry.Registry, version string) (*Validator, error) {
	if version == "" {
		version = plan.SchemaVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("expected schema version %q: %w", version, err)
	}
	val := &Validator{reg: reg, version: v}
	val.checks = []check{
		{CheckRootObject, 5, checkRoot},
		{CheckRequiredSections, 15, checkSections},
		{CheckSignalGroupIDs, 15, val.checkGroupIDs},
		{CheckSignalProvenance, 10, checkSignalProvenance},
		{CheckRuleProvenance, 10, checkRuleProvenance},
		{CheckPlaceholderText, 10, checkPlaceholders},
		{CheckSignalFields, 10, checkSignalFields},
		{CheckQuestionsShape, 10, checkQuestions},
		{CheckVersionMatch, 5, val.checkVersion},
		{CheckRationaleCompleteness, 10, checkRationale},
	}
	return val, nil
}

// Weights returns the check weights keyed by name.
func (v *Validator) Weights() map[string]int {
	out := make(map[string]int, len(v.checks))
	for _, c := range v.checks {
		out[c.name] = c.weight
	}
	return out
}

// Validate runs every check against data.
func (v *Validator) Validate(data []byte) Report {
	doc := parse(data)
	r := Report{Checks: make([]CheckResult, 0, len(v.checks)), Errors: []string{}}
	for _, c := range v.checks {
		errs := c.run(doc)
		res := CheckResult{Name: c.name, Weight: c.weight, Passed: len(errs) == 0, Errors: errs}
		if res.Passed {
			r.Score += c.weight
		}
		for _, e := range errs {
			r.Errors = append(r.Errors, c.name+": "+e)
		}
		r.Checks = append(r.Checks, res)
	}
	r.IsValid = len(r.Errors) == 0
	return r
}

// ValidatePlan marshals p as an artifact and validates it.
func (v *Validator) ValidatePlan(p plan.PlannerPlan) (Report, error) {
	data, err := plan.MarshalArtifact(p)
	if err != nil {
		return Report{}, err
	}
	return v.Validate(data), nil
}

// document holds the three views the checks read.
type document struct {
	rootErr  string
	root     map[string]json.RawMessage
	sections map[string]json.RawMessage
	plan     plan.PlannerPlan
	planErr  error
}

func parse(data []byte) *document {
	doc := &document{}
	if err := json.Unmarshal(data, &doc.root); err != nil {
		doc.rootErr = fmt.Sprintf("artifact is not a JSON object: %v", err)
		return doc
	}
	raw, ok := doc.root[plan.ArtifactRootKey]
	if !ok {
		doc.rootErr = fmt.Sprintf("missing root key %q", plan.ArtifactRootKey)
		return doc
	}
	if err := json.Unmarshal(raw, &doc.sections); err != nil {
		doc.rootErr = fmt.Sprintf("%s is not an object", plan.ArtifactRootKey)
		return doc
	}
	doc.planErr = json.Unmarshal(raw, &doc.plan)
	return doc
}

func (d *document) usable() bool {
	return d.sections != nil && d.planErr == nil
}

func unusable(d *document) []string {
	if d.rootErr != "" {
		return []string{"artifact root unreadable"}
	}
	return []string{fmt.Sprintf("artifact does not decode: %v", d.planErr)}
}

func checkRoot(d *document) []string {
	if d.rootErr != "" {
		return []string{d.rootErr}
	}
	if len(d.root) != 1 {
		keys := make([]string, 0, len(d.root))
		for k := range d.root {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return []string{fmt.Sprintf("artifact has extra root keys: %s", strings.Join(keys, ", "))}
	}
	return nil
}

func checkSections(d *document) []string {
	if d.sections == nil {
		return []string{"no sections to inspect"}
	}
	var errs []string
	for _, s := range RequiredSections {
		raw, ok := d.sections[s]
		if !ok || string(raw) == "null" {
			errs = append(errs, fmt.Sprintf("missing section %s", s))
		}
	}
	return errs
}

func (v *Validator) checkGroupIDs(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	p := d.plan
	kind := p.Metadata.DomainKind
	if spec, err := v.reg.Domain(p.Metadata.Domain); err == nil {
		if kind != spec.Kind {
			return []string{fmt.Sprintf("domain %s is %s, metadata says %s", p.Metadata.Domain, spec.Kind, kind)}
		}
	} else {
		return []string{fmt.Sprintf("unknown domain %q", p.Metadata.Domain)}
	}

	var errs []string
	if len(p.SignalGroups) != plan.SkeletonSize {
		errs = append(errs, fmt.Sprintf("%d signal groups, want %d", len(p.SignalGroups), plan.SkeletonSize))
	}
	seen := map[plan.GroupID]bool{}
	for _, g := range p.SignalGroups {
		if seen[g.ID] {
			errs = append(errs, fmt.Sprintf("duplicate group %s", g.ID))
		}
		seen[g.ID] = true
		if !v.reg.InVocabulary(kind, g.ID) {
			errs = append(errs, fmt.Sprintf("group %s is not in the %s vocabulary", g.ID, kind))
		}
	}
	return errs
}

func checkSignalProvenance(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	var errs []string
	eachSignal(d.plan, func(g plan.GroupID, s plan.Signal) {
		if s.Provenance == nil || strings.TrimSpace(s.Provenance.Source) == "" {
			errs = append(errs, fmt.Sprintf("signal %s in %s has no provenance", s.ID, g))
		}
	})
	return errs
}

func checkRuleProvenance(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	var errs []string
	for _, r := range d.plan.Criteria {
		if r.Provenance == nil || strings.TrimSpace(r.Provenance.Source) == "" {
			errs = append(errs, fmt.Sprintf("criterion %s has no provenance", r.ID))
		}
	}
	return errs
}

func checkPlaceholders(d *document) []string {
	if d.sections == nil {
		return []string{"no sections to inspect"}
	}
	var errs []string
	for _, name := range scannedSections {
		raw, ok := d.sections[name]
		if !ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		walkStrings(name, v, func(path, s string) {
			if m := placeholderPattern.FindString(s); m != "" {
				errs = append(errs, fmt.Sprintf("%s contains placeholder %q", path, m))
			}
		})
	}
	return errs
}

func checkSignalFields(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	var errs []string
	eachSignal(d.plan, func(g plan.GroupID, s plan.Signal) {
		var missing []string
		for _, f := range []struct{ name, v string }{
			{"id", s.ID}, {"name", s.Name}, {"description", s.Description}, {"evidence_type", s.EvidenceType},
		} {
			if strings.TrimSpace(f.v) == "" {
				missing = append(missing, f.name)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("signal %q in %s missing %s", s.ID, g, strings.Join(missing, ", ")))
		}
	})
	return errs
}

func checkQuestions(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	if raw := d.sections["questions"]; len(raw) == 0 || raw[0] != '[' {
		return []string{"questions is not a list"}
	}
	var errs []string
	seen := map[string]bool{}
	for i, q := range d.plan.Questions {
		switch {
		case q.ID == "":
			errs = append(errs, fmt.Sprintf("questions[%d] has no id", i))
		case seen[q.ID]:
			errs = append(errs, fmt.Sprintf("duplicate question id %s", q.ID))
		}
		seen[q.ID] = true
		if strings.TrimSpace(q.Text) == "" {
			errs = append(errs, fmt.Sprintf("question %s has no text", q.ID))
		}
		switch q.Type {
		case plan.QuestionBoolean, plan.QuestionFreeText:
		case plan.QuestionChoice:
			if len(q.Options) < 2 {
				errs = append(errs, fmt.Sprintf("choice question %s needs at least two options", q.ID))
			}
		default:
			errs = append(errs, fmt.Sprintf("question %s has unknown type %q", q.ID, q.Type))
		}
	}
	return errs
}

func (v *Validator) checkVersion(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	got, err := semver.NewVersion(d.plan.Metadata.SchemaVersion)
	if err != nil {
		return []string{fmt.Sprintf("schema_version %q is not a semantic version", d.plan.Metadata.SchemaVersion)}
	}
	if !got.Equal(v.version) {
		return []string{fmt.Sprintf("schema_version %s, want %s", got, v.version)}
	}
	return nil
}

func checkRationale(d *document) []string {
	if !d.usable() {
		return unusable(d)
	}
	r := d.plan.Rationale
	var errs []string
	if strings.TrimSpace(r.Summary) == "" {
		errs = append(errs, "rationale summary is empty")
	}
	if strings.TrimSpace(r.Text) == "" {
		errs = append(errs, "rationale text is empty")
	}
	archetypes := d.plan.Metadata.Archetypes
	if len(r.Segments) != len(archetypes) {
		errs = append(errs, fmt.Sprintf("%d rationale segments for %d archetypes", len(r.Segments), len(archetypes)))
	}
	last := -1
	for i, seg := range r.Segments {
		if i < len(archetypes) && seg.Archetype != archetypes[i] {
			errs = append(errs, fmt.Sprintf("segment %d is %s, want %s", i, seg.Archetype, archetypes[i]))
		}
		if strings.TrimSpace(seg.Text) == "" {
			errs = append(errs, fmt.Sprintf("segment %s has no text", seg.Archetype))
		}
		pos := strings.Index(r.Text, seg.Header)
		switch {
		case seg.Header == "" || pos < 0:
			errs = append(errs, fmt.Sprintf("rationale text lacks header for %s", seg.Archetype))
		case pos < last:
			errs = append(errs, fmt.Sprintf("header for %s is out of lane order", seg.Archetype))
		default:
			last = pos
		}
	}
	return errs
}

func eachSignal(p plan.PlannerPlan, fn func(plan.GroupID, plan.Signal)) {
	for _, g := range p.SignalGroups {
		for _, s := range g.Signals {
			fn(g.ID, s)
		}
	}
}

func walkStrings(path string, v any, fn func(path, s string)) {
	switch t := v.(type) {
	case string:
		fn(path, t)
	case []any:
		for i, e := range t {
			walkStrings(fmt.Sprintf("%s[%d]", path, i), e, fn)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkStrings(path+"."+k, t[k], fn)
		}
	}
}
