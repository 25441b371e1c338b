package scrub

import (
	"fmt"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// credentialScanner runs the gitleaks default rule set. The compiled rule
// config is shared; each scan gets its own detector because a detector
// accumulates findings.
type credentialScanner struct {
	cfg gitleaksconfig.Config
}

func newCredentialScanner() (*credentialScanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}
	return &credentialScanner{cfg: d.Config}, nil
}

type credentialMatch struct {
	start, end  int
	ruleID      string
	description string
}

// scan returns every occurrence of each detected secret.
func (c *credentialScanner) scan(content string) []credentialMatch {
	var out []credentialMatch
	seen := make(map[string]bool)
	for _, f := range detect.NewDetector(c.cfg).DetectString(content) {
		if f.Secret == "" || seen[f.Secret] {
			continue
		}
		seen[f.Secret] = true
		for off := 0; off < len(content); {
			i := strings.Index(content[off:], f.Secret)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, credentialMatch{
				start:       start,
				end:         start + len(f.Secret),
				ruleID:      f.RuleID,
				description: f.Description,
			})
			off = start + len(f.Secret)
		}
	}
	return out
}
