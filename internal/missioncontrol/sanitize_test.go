package missioncontrol

import (
	"strings"
	"testing"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "An error occurred"},
		{"plain text unchanged", "connection refused", "connection refused"},
		{"filesystem path scrubbed", "open /home/alice/secrets.txt failed", "open [path] failed"},
		{"api key redacted", "request failed: api_key=sk-abc123 rejected", "request failed: api_key=[redacted] rejected"},
		{"token with colon redacted", "bad token: xyz999", "bad token=[redacted]"},
		{"case insensitive secret", "PASSWORD: hunter2", "PASSWORD=[redacted]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeError(tt.in); got != tt.want {
				t.Errorf("sanitizeError(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeError_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := sanitizeError(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long message should end with ellipsis, got %q", got)
	}
	if len(got) > MaxErrorMessageLength+3 {
		t.Errorf("sanitized length = %d, want at most %d", len(got), MaxErrorMessageLength+3)
	}
}

func TestSanitizeError_ExactLimitNotTruncated(t *testing.T) {
	exact := strings.Repeat("y", MaxErrorMessageLength)
	if got := sanitizeError(exact); got != exact {
		t.Errorf("message at the limit should pass through, got %q", got)
	}
}

func TestSanitizeError_SecretSurvivingTruncationIsRedacted(t *testing.T) {
	msg := strings.Repeat("a", 180) + " key=topsecretvalue and more trailing text beyond the cap"
	got := sanitizeError(msg)
	if strings.Contains(got, "topsecret") {
		t.Errorf("secret leaked through truncation: %q", got)
	}
	if !strings.Contains(got, "[redacted]") {
		t.Errorf("expected redaction marker in %q", got)
	}
}
