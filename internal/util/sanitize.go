package util

import (
	"strings"
	"unicode"
)

// SanitizeInput trims surrounding whitespace and drops control characters.
func SanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// ContainsSuspicious reports markup or template fragments that have no place
// in a profile name.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, bad := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lower, bad) {
			return true
		}
	}
	return false
}

// MaskMobile keeps the last four characters of a phone number.
func MaskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return strings.Repeat("*", len(mobile))
	}
	return strings.Repeat("*", len(mobile)-4) + mobile[len(mobile)-4:]
}
