package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Limits for values that end up in log fields. Terminal and idempotency headers are caller
// controlled, so they are bounded and stripped of control characters before logging.
const (
	maxRouteLen      = 180
	maxMethodLen     = 10
	maxIdentifierLen = 64
	maxKeyLen        = 128
)

func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// SanitizeIdentifier bounds caller supplied identifiers such as terminal or organization ids.
func SanitizeIdentifier(id string) string {
	return clean(id, maxIdentifierLen)
}

func sanitizeRoute(route string) string {
	if route = clean(route, maxRouteLen); route == "" {
		return "/"
	}
	return route
}
