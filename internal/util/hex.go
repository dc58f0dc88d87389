package util

import "strings"

// Strip0x removes a leading "0x" or "0X" prefix.
func Strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}

	return s
}

// Has0x reports whether s carries a hex prefix.
func Has0x(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}
