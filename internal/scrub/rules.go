package scrub

// DefaultRules returns the default rule set: direct patient identifiers
// followed by credentials that tend to get pasted into reviewer remarks.
func DefaultRules() []Rule {
	return []Rule{
		// Patient identifiers
		{
			ID:          "ssn",
			Description: "US Social Security number",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Severity:    "high",
		},
		{
			ID:          "mrn",
			Description: "Medical record number",
			Pattern:     `(?i)\b(?:mrn|medical record(?: number| no\.?)?)\s*[:#]?\s*[A-Z0-9-]{5,12}\b`,
			Keywords:    []string{"mrn", "medical record"},
			Severity:    "high",
		},
		{
			ID:          "date-of-birth",
			Description: "Date of birth",
			Pattern:     `(?i)\b(?:dob|date of birth|born(?: on)?)\s*[:]?\s*\d{1,4}[/-]\d{1,2}[/-]\d{1,4}\b`,
			Keywords:    []string{"dob", "birth", "born"},
			Severity:    "high",
		},
		{
			ID:          "email",
			Description: "Email address",
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
			Severity:    "medium",
		},
		{
			ID:          "phone",
			Description: "Phone number",
			Pattern:     `(?:\+1[ .-]?)?\(?\b\d{3}\)?[ .-]\d{3}[ .-]\d{4}\b`,
			Severity:    "medium",
		},

		// Credentials
		{
			ID:          "private-key",
			Description: "Private key block",
			Pattern:     `-----BEGIN[ A-Z]*PRIVATE KEY-----[\s\S]*?-----END[ A-Z]*PRIVATE KEY-----`,
			Severity:    "high",
		},
		{
			ID:          "aws-access-key-id",
			Description: "AWS access key id",
			Pattern:     `\b(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`,
			Severity:    "high",
		},
		{
			ID:          "openai-api-key",
			Description: "OpenAI-style API key",
			Pattern:     `\bsk-[A-Za-z0-9_-]{16,}\b`,
			Severity:    "high",
		},
		{
			ID:          "generic-api-key",
			Description: "Generic API key assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey|secret|password)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"key", "secret", "password"},
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer token",
			Pattern:     `(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{8,}`,
			Keywords:    []string{"bearer"},
			Severity:    "medium",
		},
		{
			ID:          "database-url",
			Description: "Database URL with credentials",
			Pattern:     `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|nats)://[^\s:@/]+:[^\s@/]+@[^\s]+`,
			Severity:    "high",
		},
	}
}
