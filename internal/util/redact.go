package util

import (
	"net/url"
	"strings"
)

const redactedValue = "[REDACTED]"

// MaskSensitiveQuery redacts credential-looking parameters in a raw query string so it can
// be logged. Unparseable queries are returned fully redacted.
func MaskSensitiveQuery(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redactedValue
	}
	masked := false
	for key := range values {
		if isSensitiveKey(key) {
			values[key] = []string{redactedValue}
			masked = true
		}
	}
	if !masked {
		return raw
	}
	return values.Encode()
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.Contains(k, "authorization"),
		strings.Contains(k, "api_key"),
		strings.Contains(k, "api-key"),
		strings.Contains(k, "apikey"),
		strings.Contains(k, "secret"),
		strings.Contains(k, "token"),
		strings.Contains(k, "password"),
		k == "key":
		return true
	default:
		return false
	}
}
