package logger

import (
	"regexp"
	"strings"
)

// sensitivePatterns matches the shapes of credentials and bearer tokens
// that provider HTTP calls and config dumps can leak into log lines.
// Spec.md §4.A requires that decrypted credentials are never logged;
// every Logger call routes through SanitizeLog to enforce that.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|auth)\s*[:=]\s*['"]?([a-zA-Z0-9_\-+/=]{8,})['"]?`),
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_\-+/=]{20,})`),
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)([a-zA-Z0-9_\-+/=]{8,})`),
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)([a-zA-Z0-9_\-+/=]{20,})`),
}

// SanitizeLog redacts credential-shaped substrings from message before it
// reaches a sink.
func SanitizeLog(message string) string {
	result := message
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := strings.SplitN(match, ":", 2)
			if len(parts) == 2 {
				return parts[0] + ": ***REDACTED***"
			}
			if strings.Contains(strings.ToLower(match), "sk-") {
				return "sk-***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return result
}
