// Package scrub detects and redacts patient identifiers and credentials in
// free text before it is sent to a model or written to an artifact.
//
// Findings keep the rule id, severity and position but never the matched
// value, so callers can log and count them safely.
package scrub
