package plan

import "fmt"

// Tier is the validation severity level.
type Tier int

const (
	// TierStructural failures always halt the pipeline.
	TierStructural Tier = 1
	// TierSemantic failures warn but never block.
	TierSemantic Tier = 2
	// TierClinical concerns are informational.
	TierClinical Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierStructural:
		return "structural"
	case TierSemantic:
		return "semantic"
	case TierClinical:
		return "clinical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Issue is one itemized validation finding.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (i Issue) String() string {
	if i.Stage != "" {
		return fmt.Sprintf("[%s %s] %s", i.Stage, i.Code, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}

// TierResult carries pass/fail plus itemized errors and warnings for one tier.
type TierResult struct {
	Passed   bool    `json:"passed"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidationResult is the three-tier outcome of a stage or of a whole run.
//
// Structural and semantic findings are recorded as errors of their tier;
// clinical findings are recorded as warnings because they never block.
type ValidationResult struct {
	Structural TierResult `json:"structural"`
	Semantic   TierResult `json:"semantic"`
	Clinical   TierResult `json:"clinical"`
}

// NewValidationResult returns an all-passing result with non-nil lists.
func NewValidationResult() ValidationResult {
	return ValidationResult{
		Structural: TierResult{Passed: true, Errors: []Issue{}, Warnings: []Issue{}},
		Semantic:   TierResult{Passed: true, Errors: []Issue{}, Warnings: []Issue{}},
		Clinical:   TierResult{Passed: true, Errors: []Issue{}, Warnings: []Issue{}},
	}
}

// HasStructuralErrors reports whether any Tier-1 error is present.
func (v ValidationResult) HasStructuralErrors() bool {
	return len(v.Structural.Errors) > 0
}

// HasSemanticErrors reports whether any Tier-2 error is present.
func (v ValidationResult) HasSemanticErrors() bool {
	return len(v.Semantic.Errors) > 0
}

// HasClinicalFindings reports whether any Tier-3 finding is present.
func (v ValidationResult) HasClinicalFindings() bool {
	return len(v.Clinical.Warnings) > 0 || len(v.Clinical.Errors) > 0
}

// Warnings returns every non-blocking finding (Tier 2 and Tier 3) in tier order.
func (v ValidationResult) Warnings() []Issue {
	out := make([]Issue, 0, len(v.Semantic.Errors)+len(v.Semantic.Warnings)+len(v.Clinical.Warnings))
	out = append(out, v.Semantic.Errors...)
	out = append(out, v.Semantic.Warnings...)
	out = append(out, v.Clinical.Errors...)
	out = append(out, v.Clinical.Warnings...)
	return out
}

// Merge returns a new result containing the findings of both v and other.
func (v ValidationResult) Merge(other ValidationResult) ValidationResult {
	return ValidationResult{
		Structural: mergeTier(v.Structural, other.Structural),
		Semantic:   mergeTier(v.Semantic, other.Semantic),
		Clinical:   mergeTier(v.Clinical, other.Clinical),
	}
}

func mergeTier(a, b TierResult) TierResult {
	errs := make([]Issue, 0, len(a.Errors)+len(b.Errors))
	errs = append(append(errs, a.Errors...), b.Errors...)
	warns := make([]Issue, 0, len(a.Warnings)+len(b.Warnings))
	warns = append(append(warns, a.Warnings...), b.Warnings...)
	return TierResult{Passed: len(errs) == 0, Errors: errs, Warnings: warns}
}

// Findings accumulates issues for one stage.
type Findings struct {
	stage  Stage
	result ValidationResult
}

// NewFindings starts an empty collection for stage.
func NewFindings(stage Stage) *Findings {
	return &Findings{stage: stage, result: NewValidationResult()}
}

// Structural records a Tier-1 error.
func (f *Findings) Structural(code, format string, args ...any) {
	f.result.Structural.Errors = append(f.result.Structural.Errors, f.issue(code, format, args...))
	f.result.Structural.Passed = false
}

// Semantic records a Tier-2 error.
func (f *Findings) Semantic(code, format string, args ...any) {
	f.result.Semantic.Errors = append(f.result.Semantic.Errors, f.issue(code, format, args...))
	f.result.Semantic.Passed = false
}

// Clinical records a Tier-3 informational finding.
func (f *Findings) Clinical(code, format string, args ...any) {
	f.result.Clinical.Warnings = append(f.result.Clinical.Warnings, f.issue(code, format, args...))
}

// Add records an issue at the given tier.
func (f *Findings) Add(tier Tier, issue Issue) {
	if issue.Stage == "" {
		issue.Stage = f.stage
	}
	switch tier {
	case TierStructural:
		f.result.Structural.Errors = append(f.result.Structural.Errors, issue)
		f.result.Structural.Passed = false
	case TierSemantic:
		f.result.Semantic.Errors = append(f.result.Semantic.Errors, issue)
		f.result.Semantic.Passed = false
	default:
		f.result.Clinical.Warnings = append(f.result.Clinical.Warnings, issue)
	}
}

// Absorb folds another result into this collection.
func (f *Findings) Absorb(other ValidationResult) {
	f.result = f.result.Merge(other)
}

// Result returns the accumulated validation result.
func (f *Findings) Result() ValidationResult {
	return f.result.Merge(NewValidationResult())
}

func (f *Findings) issue(code, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...), Stage: f.stage}
}
