// Package classify implements the Error Taxonomy & Classifier: a pure,
// deterministic function mapping a MediaFetcher's raw error text onto a
// closed set of variants the Download Service can reason about uniformly.
package classify

import "strings"

// Category is one member of the closed error-variant set.
type Category string

const (
	CategoryNetwork        Category = "Network"
	CategoryAuthentication Category = "Authentication"
	CategoryFormat         Category = "Format"
	CategoryExtraction     Category = "Extraction"
	CategoryCancelled      Category = "Cancelled"
	CategoryOther          Category = "Other"
)

var networkKeywords = []string{"network", "connection", "timeout", "unreachable"}
var authKeywords = []string{"login", "private", "members-only"}
var formatKeywords = []string{"format", "quality", "unavailable"}

// Classify inspects msg for the keyword sets defining each category, in
// precedence order: network, authentication, format, otherwise extraction.
// Cancellation is never inferred from text — callers that know a failure was
// a cooperative cancellation should report CategoryCancelled directly rather
// than calling Classify.
func Classify(msg string) Category {
	lower := strings.ToLower(msg)

	if containsAny(lower, networkKeywords) {
		return CategoryNetwork
	}
	if containsAny(lower, authKeywords) {
		return CategoryAuthentication
	}
	if containsAny(lower, formatKeywords) {
		return CategoryFormat
	}
	return CategoryExtraction
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
