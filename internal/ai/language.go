package ai

import "strings"

// portugueseMarkers is a closed set of function words used as a cheap
// language heuristic. It only selects between two prompt templates, so
// imprecision is tolerable.
var portugueseMarkers = []string{
	"como", "está", "olá", "bom dia", "boa tarde", "obrigado", "não", "qual", "para",
}

// looksPortuguese reports whether the context appears to be in Portuguese.
// Markers must sit on a word boundary to count.
func looksPortuguese(context string) bool {
	if context == "" {
		return false
	}
	lower := strings.ToLower(context)
	for _, marker := range portugueseMarkers {
		if strings.Contains(lower, " "+marker+" ") ||
			strings.HasPrefix(lower, marker+" ") ||
			strings.Contains(lower, " "+marker+"\n") {
			return true
		}
	}
	return false
}

// lastUserQuery returns the text of the most recent user line in the
// context, skipping bot lines. Defaults to a generic opener.
func lastUserQuery(context string) string {
	lines := strings.Split(context, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if strings.HasPrefix(line, "Bot:") {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx > 0 && idx < len(line)-2 {
			return line[idx+2:]
		}
	}
	return "How can I help?"
}
