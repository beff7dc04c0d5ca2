package policy

import "regexp"

var (
	// Handles both plain assignments (token=x) and JSON fields ("token":"x").
	assignedSecretPattern = regexp.MustCompile(`(?i)("?)\b(api[_-]?key|token|secret|password|passwd|credential)s?\b("?\s*[:=]\s*"?)[^"\s,}]+`)
	bearerPattern         = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]+`)
	keyLiteralPattern     = regexp.MustCompile(`\b(sk|pk|ghp|gho|xox[a-z])-[A-Za-z0-9_\-]{12,}\b`)
)

// RedactSecrets masks credential-shaped values before tool input is shown on
// a channel or written to the log.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	next := assignedSecretPattern.ReplaceAllString(out, "$1$2$3[REDACTED]")
	changed = changed || next != out
	out = next

	// Key literals before bearer so a "Bearer sk-..." header is caught whole.
	next = keyLiteralPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	changed = changed || next != out
	out = next

	next = bearerPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	changed = changed || next != out
	out = next

	return out, changed
}
