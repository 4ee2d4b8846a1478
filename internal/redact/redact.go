// Package redact removes credentials from strings before they are logged or
// wrapped into errors. Batch service errors can echo request URLs that carry
// the API key, and database errors can echo the connection string.
package redact

import (
	"regexp"
)

// Placeholders substituted for redacted fragments.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
)

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Rules are applied in order; earlier rules see the unredacted input.
var rules = []rule{
	// user:password@ in database and broker URLs
	{regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://)[^@\s/]+@`), "${1}" + RedactedCredentialPlaceholder + "@"},
	// key=... query parameters in request URLs
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)[^&\s"']+`), "${1}" + RedactedKeyPlaceholder},
	// Google API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), RedactedKeyPlaceholder},
	// Authorization headers
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-.~+/]+=*`), "${1}" + RedactedTokenPlaceholder},
	// JWT-shaped tokens
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), RedactedTokenPlaceholder},
	// key: value and key=value pairs
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|passwd|token)(["']?\s*[:=]\s*["']?)[^\s"'&,}]{4,}`), "${1}${2}" + RedactedCredentialPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.replacement)
	}
	return out
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Secret renders a configured secret for logs: empty stays empty, anything
// else becomes a fixed placeholder.
func Secret(s string) string {
	if s == "" {
		return ""
	}
	return RedactedCredentialPlaceholder
}
