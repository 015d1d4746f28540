package missioncontrol

import (
	"regexp"
	"strings"
)

// MaxErrorMessageLength caps error text surfaced to dashboards and feeds.
const MaxErrorMessageLength = 200

var (
	pathPattern   = regexp.MustCompile(`/[^\s]+/[^\s]+`)
	secretPattern = regexp.MustCompile(`(?i)(key|token|secret|password)[=:]\s*\S+`)
)

// sanitizeError prepares backend error text for broadcast: truncate to the
// cap, blank out filesystem paths, redact anything that looks like a
// credential assignment. Truncation happens before scrubbing so a secret
// split by the cut still matches the redaction pattern on what remains.
func sanitizeError(msg string) string {
	if msg == "" {
		return "An error occurred"
	}
	sanitized := msg
	if len(sanitized) > MaxErrorMessageLength {
		sanitized = sanitized[:MaxErrorMessageLength]
	}
	sanitized = pathPattern.ReplaceAllString(sanitized, "[path]")
	sanitized = secretPattern.ReplaceAllString(sanitized, "${1}=[redacted]")
	if len(msg) > MaxErrorMessageLength {
		sanitized = strings.TrimRight(sanitized, " \t\n") + "..."
	}
	return sanitized
}
