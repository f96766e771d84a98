package decision

import "strings"

// prefixes stripped from user-visible strings before they reach the UI or
// are compared for emptiness.
var prefixes = []string{"coordinator:", "cli:"}

// StripPrefixes removes a single leading "Coordinator:" or "CLI:" prefix,
// ASCII-case-insensitively, then trims surrounding whitespace. A string
// with no matching prefix is returned trimmed as-is; of stacked prefixes
// ("CLI: Coordinator: x") only the first is removed.
func StripPrefixes(s string) string {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			trimmed = strings.TrimSpace(trimmed[len(p):])
			break
		}
	}
	return trimmed
}

func trimSpace(s string) string { return strings.TrimSpace(s) }
func toLower(s string) string   { return strings.ToLower(s) }
