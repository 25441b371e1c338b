package workflows

import "fmt"

// WrapActivityError wraps an activity error with operation context.
// Use this when an activity fails to provide consistent error messages.
func WrapActivityError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// FormatErrorForResult formats an error for inclusion in the workflow
// result's Errors slice.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}
