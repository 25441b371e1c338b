package scrub

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts identifiers in text.
type Scrubber interface {
	// Scrub redacts findings from content.
	Scrub(content string) *Result

	// Check detects findings without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is enabled.
	IsEnabled() bool
}

// scrubber is the regexp implementation. Its config is compiled once and
// never mutated, so it is safe for concurrent use.
type scrubber struct {
	config      *Config
	credentials *credentialScanner
}

type redaction struct {
	start, end int
	ruleID     string
}

// New creates a Scrubber. A nil cfg uses DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}
	s := &scrubber{config: cfg}
	if cfg.DetectCredentials {
		creds, err := newCredentialScanner()
		if err != nil {
			return nil, err
		}
		s.credentials = creds
	}
	return s, nil
}

// MustNew is New for static configurations; it panics on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := newResult(content)

	var redactions []redaction
	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, match := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[match[0]:match[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  match[0],
				EndIndex:    match[1],
				Line:        strings.Count(content[:match[0]], "\n") + 1,
			})
			result.ByRule[rule.ID]++
			redactions = append(redactions, redaction{start: match[0], end: match[1], ruleID: rule.ID})
		}
	}
	if s.credentials != nil {
		for _, m := range s.credentials.scan(content) {
			if covered(redactions, m.start, m.end) || s.isAllowed(content[m.start:m.end]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      m.ruleID,
				Description: m.description,
				Severity:    "high",
				StartIndex:  m.start,
				EndIndex:    m.end,
				Line:        strings.Count(content[:m.start], "\n") + 1,
			})
			result.ByRule[m.ruleID]++
			redactions = append(redactions, redaction{start: m.start, end: m.end, ruleID: m.ruleID})
		}
	}
	result.TotalFindings = len(result.Findings)

	if len(redactions) > 0 {
		// Apply back to front so earlier offsets stay valid.
		merged := mergeRedactions(redactions)
		scrubbed := content
		for i := len(merged) - 1; i >= 0; i-- {
			r := merged[i]
			scrubbed = scrubbed[:r.start] + s.replacement(r.ruleID) + scrubbed[r.end:]
		}
		result.Scrubbed = scrubbed
	}
	result.Duration = time.Since(start)
	return result
}

func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

func (s *scrubber) IsEnabled() bool { return true }

func (s *scrubber) replacement(ruleID string) string {
	if strings.Contains(s.config.RedactionString, "%s") {
		return fmt.Sprintf(s.config.RedactionString, ruleID)
	}
	return s.config.RedactionString
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// covered reports whether [start,end) overlaps an existing redaction.
func covered(redactions []redaction, start, end int) bool {
	for _, r := range redactions {
		if start < r.end && r.start < end {
			return true
		}
	}
	return false
}

// mergeRedactions sorts by start and merges overlapping spans. A merged
// span keeps the rule id of its first match.
func mergeRedactions(redactions []redaction) []redaction {
	sort.Slice(redactions, func(i, j int) bool {
		if redactions[i].start == redactions[j].start {
			return redactions[i].end > redactions[j].end
		}
		return redactions[i].start < redactions[j].start
	})
	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
		last := &merged[len(merged)-1]
		if curr.start < last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// Noop leaves content unchanged.
type Noop struct{}

func (Noop) Scrub(content string) *Result { return newResult(content) }
func (Noop) Check(content string) *Result { return newResult(content) }
func (Noop) IsEnabled() bool              { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
