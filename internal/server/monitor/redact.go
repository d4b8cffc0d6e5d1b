package monitor

import "strings"

const redactedFixed = "********"

// sensitiveMarkers flag a key whose values must never be published or
// logged in the clear.
var sensitiveMarkers = []string{"password", "secret", "key", "token", "auth"}

// isSensitive reports whether a key/value pair carries a secret. A key
// that names a credential is always sensitive; a connection-string key
// is sensitive only when the value embeds credentials.
func isSensitive(key string, value any) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	if strings.Contains(lower, "url") || strings.Contains(lower, "uri") || strings.Contains(lower, "dsn") {
		if s, ok := value.(string); ok {
			ls := strings.ToLower(s)
			if strings.Contains(ls, "password") || strings.Contains(ls, "pwd") {
				return true
			}
		}
	}

	return false
}

// redactValue masks a sensitive value, keeping the first and last
// three characters of long strings so operators can still tell two
// secrets apart.
func redactValue(value any) any {
	if value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok || len(s) <= 8 {
		return redactedFixed
	}
	return s[:3] + "****" + s[len(s)-3:]
}
