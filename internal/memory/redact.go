package memory

import (
	"regexp"
)

var (
	reBearer = regexp.MustCompile(`(?i)\b(bearer)\s+([A-Za-z0-9_\-\.=]{12,})`)
	reSK     = regexp.MustCompile(`\b(sk-[A-Za-z0-9_\-]{12,})\b`)
	reAzure  = regexp.MustCompile(`(?i)\b(api[-_]?key)\s*[:=]\s*([A-Za-z0-9]{24,})`)
	reHexKey = regexp.MustCompile(`(?i)\b((?:key|secret|token)\s*[:=]?\s*)[a-f0-9]{32}\b`)
)

// RedactText masks API keys and bearer tokens before text is remembered. A bare hex
// string is only masked when it follows a key, secret or token label.
func RedactText(s string) string {
	if s == "" {
		return s
	}
	s = reBearer.ReplaceAllString(s, "$1 [REDACTED]")
	s = reSK.ReplaceAllString(s, "[REDACTED]")
	s = reAzure.ReplaceAllString(s, "$1=[REDACTED]")
	s = reHexKey.ReplaceAllString(s, "${1}[REDACTED]")
	return s
}
