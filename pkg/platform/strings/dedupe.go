// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// Dedupe removes duplicates and empty strings from a slice without altering
// the surviving values. Order of first occurrence is preserved and the result
// is never nil.
//
// Example:
//
//	Dedupe([]string{"a@x.com", "", "b@x.com", "a@x.com"})
//	// Returns: []string{"a@x.com", "b@x.com"}
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// TrimToNil trims whitespace and returns nil for an empty result.
// Used to normalize optional identity keys at the service boundary.
func TrimToNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
