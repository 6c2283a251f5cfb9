package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/abaquiz/backend/internal/llm"
)

var exactlyN = regexp.MustCompile(`Generate exactly (\d+) `)

// NewMockProvider returns a provider that answers generation prompts with
// canned questions. Each question text is distinct so dedup can be
// exercised end to end without an API key.
func NewMockProvider() *llm.FuncProvider {
	var seq atomic.Int64
	return &llm.FuncProvider{
		ProviderName: "mock",
		Fn: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
			if req.SchemaName == QuestionSchemaName {
				q := mockQuestion(seq.Add(1))
				body, _ := json.Marshal(q)
				return &llm.Response{Content: string(body), Model: "mock", InputTokens: 1500, OutputTokens: 400}, nil
			}

			n := 5
			if m := exactlyN.FindStringSubmatch(req.UserPrompt); m != nil {
				n, _ = strconv.Atoi(m[1])
			}
			batch := GeneratedBatch{Questions: make([]GeneratedQuestion, n)}
			for i := range batch.Questions {
				batch.Questions[i] = mockQuestion(seq.Add(1))
			}
			body, _ := json.Marshal(batch)
			return &llm.Response{Content: string(body), Model: "mock", InputTokens: 2000, OutputTokens: 2000}, nil
		},
	}
}

func mockQuestion(id int64) GeneratedQuestion {
	str := func(s string) *string { return &s }
	section := fmt.Sprintf("F-%d", id%9+1)

	if id%5 == 0 {
		return GeneratedQuestion{
			Question: fmt.Sprintf("[Mock %d] Intermittent reinforcement schedules produce behavior that is more resistant to extinction than continuous reinforcement.", id),
			Type:     "true_false",
			Options: map[string]*string{
				"A": nil, "B": nil, "C": nil, "D": nil,
				"True": str("True"), "False": str("False"),
			},
			CorrectAnswer:  "True",
			Explanation:    "[Mock] Intermittent schedules make the onset of extinction harder to discriminate, so responding persists longer. The statement is therefore true.",
			Category:       "definition",
			SourceCitation: &GeneratedCitation{Section: str(section), Quote: str("resistance to extinction")},
		}
	}

	keys := []string{"A", "B", "C", "D"}
	correct := keys[id%4]
	categories := []string{"scenario", "definition", "application"}
	return GeneratedQuestion{
		Question: fmt.Sprintf("[Mock %d] A BCBA working with a 7-year-old client notices problem behavior increases when demands are placed. Which function is most likely?", id),
		Type:     "multiple_choice",
		Options: map[string]*string{
			"A":    str("Escape from demands"),
			"B":    str("Access to tangibles"),
			"C":    str("Attention from adults"),
			"D":    str("Automatic reinforcement"),
			"True": nil, "False": nil,
		},
		CorrectAnswer:  correct,
		Explanation:    fmt.Sprintf("[Mock] %s is keyed as correct for this mock item; each other option describes a different function that the scenario does not support.", correct),
		Category:       categories[id%3],
		SourceCitation: &GeneratedCitation{Section: str(section), Heading: str("Behavior Assessment")},
	}
}
