package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type ContentArea string

const (
	AreaPhilosophicalUnderpinnings ContentArea = "Philosophical Underpinnings"
	AreaConceptsAndPrinciples      ContentArea = "Concepts and Principles"
	AreaMeasurement                ContentArea = "Measurement, Data Display, and Interpretation"
	AreaExperimentalDesign         ContentArea = "Experimental Design"
	AreaEthics                     ContentArea = "Ethics"
	AreaBehaviorAssessment         ContentArea = "Behavior Assessment"
	AreaBehaviorChangeProcedures   ContentArea = "Behavior-Change Procedures"
	AreaInterventions              ContentArea = "Selecting and Implementing Interventions"
	AreaSupervision                ContentArea = "Personnel Supervision and Management"
)

// AllContentAreas is the canonical enum order. It breaks weight ties when
// areas are sorted for distribution.
var AllContentAreas = []ContentArea{
	AreaBehaviorChangeProcedures,
	AreaConceptsAndPrinciples,
	AreaEthics,
	AreaBehaviorAssessment,
	AreaMeasurement,
	AreaInterventions,
	AreaSupervision,
	AreaExperimentalDesign,
	AreaPhilosophicalUnderpinnings,
}

var ValidContentAreas = map[ContentArea]bool{
	AreaPhilosophicalUnderpinnings: true,
	AreaConceptsAndPrinciples:      true,
	AreaMeasurement:                true,
	AreaExperimentalDesign:         true,
	AreaEthics:                     true,
	AreaBehaviorAssessment:         true,
	AreaBehaviorChangeProcedures:   true,
	AreaInterventions:              true,
	AreaSupervision:                true,
}

// DefaultBCBAWeights is the exam distribution driving pool fan-out.
var DefaultBCBAWeights = map[ContentArea]float64{
	AreaBehaviorChangeProcedures:   0.14,
	AreaConceptsAndPrinciples:      0.14,
	AreaEthics:                     0.13,
	AreaBehaviorAssessment:         0.13,
	AreaMeasurement:                0.12,
	AreaInterventions:              0.11,
	AreaSupervision:                0.11,
	AreaExperimentalDesign:         0.07,
	AreaPhilosophicalUnderpinnings: 0.05,
}

var contentAreaAliases = map[string]ContentArea{
	"philosophical underpinnings": AreaPhilosophicalUnderpinnings,
	"philosophy":                  AreaPhilosophicalUnderpinnings,
	"philosophical":               AreaPhilosophicalUnderpinnings,
	"pu":                          AreaPhilosophicalUnderpinnings,
	"concepts and principles":     AreaConceptsAndPrinciples,
	"concepts":                    AreaConceptsAndPrinciples,
	"principles":                  AreaConceptsAndPrinciples,
	"measurement":                 AreaMeasurement,
	"data":                        AreaMeasurement,
	"experimental design":         AreaExperimentalDesign,
	"experiment":                  AreaExperimentalDesign,
	"design":                      AreaExperimentalDesign,
	"ethics":                      AreaEthics,
	"behavior assessment":         AreaBehaviorAssessment,
	"assessment":                  AreaBehaviorAssessment,
	"behavior-change procedures":  AreaBehaviorChangeProcedures,
	"behavior change":             AreaBehaviorChangeProcedures,
	"procedures":                  AreaBehaviorChangeProcedures,
	"interventions":               AreaInterventions,
	"intervention":                AreaInterventions,
	"supervision":                 AreaSupervision,
	"supervise":                   AreaSupervision,
	"management":                  AreaSupervision,
}

// ParseContentArea accepts a wire value (any case) or a shorthand alias.
func ParseContentArea(s string) (ContentArea, error) {
	trimmed := strings.TrimSpace(s)
	for _, area := range AllContentAreas {
		if strings.EqualFold(string(area), trimmed) {
			return area, nil
		}
	}
	if area, ok := contentAreaAliases[strings.ToLower(trimmed)]; ok {
		return area, nil
	}
	return "", fmt.Errorf("unknown content area %q", s)
}

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeTrueFalse      QuestionType = "true_false"
)

var ValidQuestionTypes = map[QuestionType]bool{
	TypeMultipleChoice: true,
	TypeTrueFalse:      true,
}

type Category string

const (
	CategoryScenario    Category = "scenario"
	CategoryDefinition  Category = "definition"
	CategoryApplication Category = "application"
)

var ValidCategories = map[Category]bool{
	CategoryScenario:    true,
	CategoryDefinition:  true,
	CategoryApplication: true,
}

// CategoryWeights is the style mix: 40% scenario, 30% definition, 30% application.
var CategoryWeights = []struct {
	Category Category
	Weight   float64
}{
	{CategoryScenario, 0.4},
	{CategoryDefinition, 0.3},
	{CategoryApplication, 0.3},
}

var (
	MultipleChoiceKeys = []string{"A", "B", "C", "D"}
	TrueFalseKeys      = []string{"True", "False"}
)

// OptionKeys returns the exact option key set for a question type.
func OptionKeys(t QuestionType) []string {
	if t == TypeTrueFalse {
		return TrueFalseKeys
	}
	return MultipleChoiceKeys
}

// ── Core Structs ───────────────────────────────────────

type SourceCitation struct {
	Section string `json:"section,omitempty"`
	Heading string `json:"heading,omitempty"`
	Quote   string `json:"quote,omitempty"`
}

type Question struct {
	ID             int64             `json:"id,omitempty"`
	ContentArea    ContentArea       `json:"content_area"`
	Type           QuestionType      `json:"type"`
	Question       string            `json:"question"`
	Options        map[string]string `json:"options"`
	CorrectAnswer  string            `json:"correct_answer"`
	Explanation    string            `json:"explanation"`
	Category       Category          `json:"category"`
	SourceCitation *SourceCitation   `json:"source_citation,omitempty"`
	Model          string            `json:"model"`
	CreatedAt      time.Time         `json:"created_at,omitempty"`
}

// SortedOptionKeys lists option keys in canonical order (A-D, True/False),
// followed by any other keys alphabetically.
func (q *Question) SortedOptionKeys() []string {
	keys := make([]string, 0, len(q.Options))
	seen := make(map[string]bool, len(q.Options))
	for _, canonical := range [][]string{MultipleChoiceKeys, TrueFalseKeys} {
		for _, k := range canonical {
			if _, ok := q.Options[k]; ok {
				keys = append(keys, k)
				seen[k] = true
			}
		}
	}
	var rest []string
	for k := range q.Options {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Validate checks the structural invariants every stored question must hold.
// It returns one message per violation.
func (q *Question) Validate() []string {
	var errs []string

	if !ValidContentAreas[q.ContentArea] {
		errs = append(errs, fmt.Sprintf("invalid content_area %q", q.ContentArea))
	}
	if !ValidQuestionTypes[q.Type] {
		errs = append(errs, fmt.Sprintf("invalid type %q", q.Type))
	}
	if strings.TrimSpace(q.Question) == "" {
		errs = append(errs, "question text is empty")
	}
	if strings.TrimSpace(q.Explanation) == "" {
		errs = append(errs, "explanation is empty")
	}
	if !ValidCategories[q.Category] {
		errs = append(errs, fmt.Sprintf("invalid category %q", q.Category))
	}
	if strings.TrimSpace(q.Model) == "" {
		errs = append(errs, "model is empty")
	}

	if ValidQuestionTypes[q.Type] {
		want := OptionKeys(q.Type)
		if len(q.Options) != len(want) {
			errs = append(errs, fmt.Sprintf("%s requires %d options, got %d", q.Type, len(want), len(q.Options)))
		}
		for _, k := range want {
			v, ok := q.Options[k]
			if !ok {
				errs = append(errs, fmt.Sprintf("missing option %s", k))
				continue
			}
			if strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Sprintf("option %s is empty", k))
			}
		}
	}

	if _, ok := q.Options[q.CorrectAnswer]; !ok {
		errs = append(errs, fmt.Sprintf("correct_answer %q is not an option key", q.CorrectAnswer))
	}

	return errs
}

// ── Response Types ────────────────────────────────────

type QuestionListResponse struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}
