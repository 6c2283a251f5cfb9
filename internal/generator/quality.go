package generator

import (
	"fmt"
	"strings"

	"github.com/abaquiz/backend/internal/models"
)

const maxQuoteWords = 50

var bannedOptionPhrases = []string{"all of the above", "none of the above"}

// Lint returns advisory warnings for a valid question. Nothing here
// rejects a question.
func Lint(q *models.Question) []string {
	var warnings []string

	seen := make(map[string]string, len(q.Options))
	for _, k := range q.SortedOptionKeys() {
		text := strings.ToLower(strings.TrimSpace(q.Options[k]))
		for _, phrase := range bannedOptionPhrases {
			if strings.Contains(text, phrase) {
				warnings = append(warnings, fmt.Sprintf("option %s uses %q", k, phrase))
			}
		}
		if prev, dup := seen[text]; dup {
			warnings = append(warnings, fmt.Sprintf("options %s and %s have the same text", prev, k))
		} else {
			seen[text] = k
		}
	}

	if c := q.SourceCitation; c != nil {
		if n := len(strings.Fields(c.Quote)); n > maxQuoteWords {
			warnings = append(warnings, fmt.Sprintf("citation quote is %d words, over %d", n, maxQuoteWords))
		}
	} else {
		warnings = append(warnings, "missing source citation")
	}

	return warnings
}
