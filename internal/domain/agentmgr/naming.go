package agentmgr

import (
	"strings"
	"unicode"
)

// acronyms stay upper-case when title-casing a normalized name.
var acronyms = map[string]bool{
	"AI": true, "API": true, "CLI": true, "CPU": true, "DB": true,
	"GPU": true, "HTTP": true, "HTTPS": true, "ID": true, "LLM": true,
	"SDK": true, "SQL": true, "TUI": true, "UI": true, "UX": true,
}

// NormalizeName produces a display name: split on whitespace and
// `_-:/.`, split camelCase and UPPERCaseToLower boundaries, then
// title-case each word, with a fixed acronym set staying upper-case.
func NormalizeName(raw string) string {
	words := splitWords(raw)
	if len(words) == 0 {
		return ""
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, titleWord(w))
	}
	return strings.Join(out, " ")
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("_-:/.", r)
}

func splitWords(raw string) []string {
	var words []string
	var cur []rune
	runes := []rune(raw)

	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}

	for i, r := range runes {
		if isSeparator(r) {
			flush()
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			// camelCase boundary: lower/digit -> upper
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				flush()
			} else if unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) &&
				unicode.IsUpper(prev) {
				// UPPERCaseToLower boundary: "APIThing" -> "API", "Thing"
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func titleWord(w string) string {
	upper := strings.ToUpper(w)
	if acronyms[upper] {
		return upper
	}
	runes := []rune(strings.ToLower(w))
	if len(runes) == 0 {
		return w
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
