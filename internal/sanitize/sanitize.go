// Package sanitize turns untrusted strings into safe file and collection
// names and validates paths and plan identifiers taken from callers.
//
// Sanitized identifiers match ^[a-z0-9_]{1,64}$, which suits both artifact
// directory names and chromem collection names.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length of a sanitized identifier.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated identifiers.
	// Format: _<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes s for use as a directory or collection name.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"C41.1a"          -> "c41_1a"
//	"Adult ICU / Q3"  -> "adult_icu_q3"
//	"" or "!!!"       -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}
	return sanitized
}

// truncateWithHash truncates s to MaxIdentifierLength, appending a hash
// suffix so distinct long inputs stay distinct.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	truncated := s[:MaxIdentifierLength-HashSuffixLength]
	truncated = strings.TrimRight(truncated, "_")
	return truncated + hashSuffix
}

// CollectionName builds a research collection name from a base name and a
// domain, e.g. CollectionName("research", "CLABSI") -> "research_clabsi".
// An empty domain yields the sanitized base alone.
func CollectionName(base, domain string) string {
	name := Identifier(base)
	if domain != "" {
		name += "_" + Identifier(domain)
	}
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}
	return name
}
