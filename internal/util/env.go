package util

import (
	"os"
	"strings"
)

// ParseBool parses a boolean setting. Accepts true/1/yes/on and
// false/0/no/off (case-insensitive); ok is false for anything else.
func ParseBool(val string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// FirstEnv returns the first non-blank value among the given environment variables.
func FirstEnv(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}
