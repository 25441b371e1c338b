package scrub

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool

	// Rules defines the detection rules
	Rules []Rule

	// RedactionString replaces each finding; the rule id is appended
	// when it contains "%s" (default: "[REDACTED:%s]")
	RedactionString string

	// AllowList contains patterns whose matches are never redacted
	AllowList []string

	// DetectCredentials adds the gitleaks default rules after Rules.
	// Spans already covered by Rules are not reported twice.
	DetectCredentials bool

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string

	// Keywords, when set, must appear somewhere in the text (case
	// insensitive) for the rule to apply.
	Keywords []string

	// Severity is high, medium or low.
	Severity string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns a configuration with the default identifier and
// credential rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString:   "[REDACTED:%s]",
		Rules:             DefaultRules(),
		DetectCredentials: true,
	}
}

// Validate validates and compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED:%s]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	seen := make(map[string]bool, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("rule %s: duplicate ID", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		compiled := &compiledRule{
			Rule:     rule,
			pattern:  pattern,
			keywords: make([]*regexp.Regexp, 0, len(rule.Keywords)),
		}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}
