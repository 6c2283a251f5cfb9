package generator

import (
	"strings"
	"testing"

	"github.com/abaquiz/backend/internal/models"
)

func lintQuestion() *models.Question {
	return &models.Question{
		Type:           models.TypeMultipleChoice,
		Question:       "stem",
		Options:        map[string]string{"A": "Shaping", "B": "Chaining", "C": "Fading", "D": "Prompting"},
		CorrectAnswer:  "A",
		SourceCitation: &models.SourceCitation{Section: "G-7"},
	}
}

func TestLint_Clean(t *testing.T) {
	if w := Lint(lintQuestion()); len(w) != 0 {
		t.Errorf("expected no warnings, got %v", w)
	}
}

func TestLint_BannedPhrases(t *testing.T) {
	q := lintQuestion()
	q.Options["D"] = "All of the above"
	w := Lint(q)
	if len(w) != 1 || !strings.Contains(w[0], "all of the above") {
		t.Errorf("expected one all-of-the-above warning, got %v", w)
	}

	q.Options["C"] = "None of the above."
	if w := Lint(q); len(w) != 2 {
		t.Errorf("expected two warnings, got %v", w)
	}
}

func TestLint_DuplicateOptions(t *testing.T) {
	q := lintQuestion()
	q.Options["C"] = " shaping "
	w := Lint(q)
	if len(w) != 1 || !strings.Contains(w[0], "options A and C") {
		t.Errorf("expected duplicate option warning, got %v", w)
	}
}

func TestLint_Citation(t *testing.T) {
	q := lintQuestion()
	q.SourceCitation.Quote = strings.Repeat("word ", 51)
	if w := Lint(q); len(w) != 1 || !strings.Contains(w[0], "51 words") {
		t.Errorf("expected long quote warning, got %v", w)
	}

	q.SourceCitation.Quote = strings.Repeat("word ", 50)
	if w := Lint(q); len(w) != 0 {
		t.Errorf("50 words should be accepted, got %v", w)
	}

	q.SourceCitation = nil
	if w := Lint(q); len(w) != 1 {
		t.Errorf("expected missing citation warning, got %v", w)
	}
}
