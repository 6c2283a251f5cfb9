package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abaquiz/backend/internal/models"
)

type GeneratedBatch struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// GeneratedQuestion is one record as returned by the model. Options carry
// every schema key; unused ones are null.
type GeneratedQuestion struct {
	Question       string             `json:"question"`
	Type           string             `json:"type"`
	Options        map[string]*string `json:"options"`
	CorrectAnswer  string             `json:"correct_answer"`
	Explanation    string             `json:"explanation"`
	Category       string             `json:"category"`
	SourceCitation *GeneratedCitation `json:"source_citation"`
}

type GeneratedCitation struct {
	Section *string `json:"section"`
	Heading *string `json:"heading"`
	Quote   *string `json:"quote"`
}

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

func ParseBatch(raw json.RawMessage) (*GeneratedBatch, error) {
	var batch GeneratedBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	return &batch, nil
}

func ParseQuestion(raw json.RawMessage) (*GeneratedQuestion, error) {
	var q GeneratedQuestion
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("failed to parse question response: %w", err)
	}
	return &q, nil
}

// ToQuestion post-processes a generated record: null and blank options are
// dropped, the answer key is normalised, a missing or unknown category
// defaults to scenario, and area and model are stamped on. The result is
// validated; violations come back as a *ValidationError.
func (g *GeneratedQuestion) ToQuestion(area models.ContentArea, model string) (*models.Question, error) {
	q := &models.Question{
		ContentArea: area,
		Type:        models.QuestionType(strings.ToLower(strings.TrimSpace(g.Type))),
		Question:    strings.TrimSpace(g.Question),
		Options:     make(map[string]string, 4),
		Explanation: strings.TrimSpace(g.Explanation),
		Category:    models.Category(strings.ToLower(strings.TrimSpace(g.Category))),
		Model:       model,
	}

	for k, v := range g.Options {
		if v == nil || strings.TrimSpace(*v) == "" {
			continue
		}
		q.Options[k] = strings.TrimSpace(*v)
	}

	if !models.ValidQuestionTypes[q.Type] {
		q.Type = inferType(q.Options)
	}
	if !models.ValidCategories[q.Category] {
		q.Category = models.CategoryScenario
	}
	q.CorrectAnswer = normaliseAnswer(g.CorrectAnswer, q.Options)

	if c := g.SourceCitation; c != nil {
		cite := models.SourceCitation{
			Section: deref(c.Section),
			Heading: deref(c.Heading),
			Quote:   deref(c.Quote),
		}
		if cite != (models.SourceCitation{}) {
			q.SourceCitation = &cite
		}
	}

	if errs := q.Validate(); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return q, nil
}

// inferType guesses the type from the option keys when the model left the
// type blank or invalid.
func inferType(opts map[string]string) models.QuestionType {
	if _, ok := opts["True"]; ok {
		if _, ok := opts["A"]; !ok {
			return models.TypeTrueFalse
		}
	}
	return models.TypeMultipleChoice
}

// normaliseAnswer maps "b" to "B" and "true" to "True" when such a key
// exists. Anything else is returned trimmed, for validation to reject.
func normaliseAnswer(answer string, opts map[string]string) string {
	answer = strings.TrimSpace(answer)
	if _, ok := opts[answer]; ok {
		return answer
	}
	for k := range opts {
		if strings.EqualFold(k, answer) {
			return k
		}
	}
	return answer
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
