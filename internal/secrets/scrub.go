package secrets

import (
	"regexp"
	"strings"
)

// Field names redacted outright in event payloads, matched
// case-insensitively as substrings.
var sensitiveKeys = []string{
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"password",
	"secret",
	"token",
}

// Value patterns scrubbed from strings before they leave the process.
// More specific patterns come first.
var scrubPatterns = []struct {
	regex       *regexp.Regexp
	replacement string
}{
	{
		regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|GITHUB_TOKEN|AWS_SECRET_ACCESS_KEY)\s*=\s*([^\s]+)`),
		"$1=[REDACTED:ENV_SECRET]",
	},
	{
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),
		"[REDACTED:ANTHROPIC_KEY]",
	},
	{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		"[REDACTED:OPENAI_KEY]",
	},
	{
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{20,}`),
		"[REDACTED:BEARER_TOKEN]",
	},
	{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?\s*([^"'\s]{8,})["']?`),
		"$1=[REDACTED:API_KEY]",
	},
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?\s*([^"'\s]{4,})["']?`),
		"$1=[REDACTED:PASSWORD]",
	},
	{
		regexp.MustCompile(`(?i)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		"[REDACTED:PRIVATE_KEY]",
	},
}

// ScrubString removes common secret patterns from a string.
func ScrubString(s string) string {
	for _, p := range scrubPatterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ScrubMap returns a redacted copy of an event payload. Values under
// sensitive keys are replaced outright; remaining string values pass
// through ScrubString; nested maps are scrubbed recursively. The input
// map is never modified.
func ScrubMap(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = ScrubString(val)
		case map[string]any:
			out[k] = ScrubMap(val)
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
