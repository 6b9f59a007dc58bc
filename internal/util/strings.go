package util

// TruncateString truncates a string to maxLen runes (Unicode-safe)
// Uses runes instead of bytes to properly handle multi-byte UTF-8 characters
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
