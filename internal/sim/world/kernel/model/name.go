package model

import "strings"

// Words the command parser treats as verbs after "trade".
var reservedNames = map[string]bool{
	"accept": true,
	"deny":   true,
	"cancel": true,
}

// NormalizeName turns a display name into a stable agent id: 1-16 of
// [A-Za-z0-9_], compared case-insensitively.
func NormalizeName(name string) (string, bool) {
	v := strings.TrimSpace(name)
	if v == "" || len(v) > 16 {
		return "", false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return "", false
		}
	}
	id := strings.ToLower(v)
	if reservedNames[id] {
		return "", false
	}
	return id, true
}
