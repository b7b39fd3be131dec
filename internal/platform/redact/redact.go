// Package redact strips Protected Health Information (PHI) from audit payloads
// before they are persisted. It applies two rulesets: a field-name set that
// masks entire values by key, and content patterns that mask SSN-, phone-,
// email- and date-shaped substrings inside free-text values. Both follow the
// HIPAA Safe Harbor identifier categories (45 CFR 164.514(b)(2)).
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker replaces the value of any field whose name matches the PHI field set.
const Marker = "[REDACTED]"

// maxDepth bounds recursion into nested payloads. Anything deeper is masked
// wholesale rather than walked.
const maxDepth = 32

// phiFieldNames lists the field names (lowercase) whose values are always
// masked regardless of content or type. Matching is case-insensitive.
var phiFieldNames = map[string]bool{
	"name":                   true,
	"patient_name":           true,
	"first_name":             true,
	"last_name":              true,
	"middle_name":            true,
	"full_name":              true,
	"ssn":                    true,
	"social_security_number": true,
	"dob":                    true,
	"date_of_birth":          true,
	"birth_date":             true,
	"address":                true,
	"street_address":         true,
	"home_address":           true,
	"city":                   true,
	"zip":                    true,
	"zip_code":               true,
	"phone":                  true,
	"phone_number":           true,
	"home_phone":             true,
	"cell_phone":             true,
	"fax":                    true,
	"email":                  true,
	"email_address":          true,
	"mrn":                    true,
	"medical_record_number":  true,
	"insurance_number":       true,
	"insurance_id":           true,
	"policy_number":          true,
	"member_id":              true,
	"employer":               true,
	"employer_name":          true,
}

// contentRule masks substrings of a given shape with a kind-specific marker.
type contentRule struct {
	pattern *regexp.Regexp
	marker  string
}

// contentRules are applied to every string value in order. Order matters:
// SSN before phone (both are digit runs with separators), date last so that
// already-masked phone fragments are not re-examined as partial dates.
var contentRules = []contentRule{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN-REDACTED]"},
	{regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE-REDACTED]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "[EMAIL-REDACTED]"},
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`), "[DATE-REDACTED]"},
}

// Apply returns a copy of payload with PHI removed. Keys in the PHI field set
// are mapped to Marker regardless of value type; string values elsewhere have
// the content patterns applied at any nesting depth. Non-string scalars pass
// through unchanged. Apply never returns an error: input it cannot make sense
// of is masked rather than leaked, and redacting already-redacted output is a
// no-op.
func Apply(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if phiFieldNames[strings.ToLower(k)] {
			out[k] = Marker
			continue
		}
		out[k] = redactValue(v, 0)
	}
	return out
}

// String applies only the content patterns to a single string. Used for
// free-text fields outside the details payload (e.g. error messages).
func String(s string) string {
	for _, r := range contentRules {
		s = r.pattern.ReplaceAllString(s, r.marker)
	}
	return s
}

func redactValue(v any, depth int) any {
	if depth > maxDepth {
		return Marker
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			if phiFieldNames[strings.ToLower(k)] {
				out[k] = Marker
				continue
			}
			out[k] = redactValue(nested, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, depth+1)
		}
		return out
	case bool, int, int32, int64, float32, float64, uint, uint32, uint64:
		return val
	default:
		// Unexpected types (structs, typed maps, etc.) are coerced to string
		// and pattern-redacted so nothing unexamined reaches storage.
		return String(fmt.Sprint(val))
	}
}
