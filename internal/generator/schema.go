package generator

import "encoding/json"

// questionSchema is one question. Strict structured output requires every
// property to be listed as required, so optional values are nullable.
const questionSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["question", "type", "options", "correct_answer", "explanation", "category", "source_citation"],
  "properties": {
    "question": {"type": "string", "description": "The question text"},
    "type": {"type": "string", "enum": ["multiple_choice", "true_false"]},
    "options": {
      "type": "object",
      "additionalProperties": false,
      "description": "For multiple_choice use A/B/C/D, for true_false use True/False; unused keys are null",
      "required": ["A", "B", "C", "D", "True", "False"],
      "properties": {
        "A": {"type": ["string", "null"]},
        "B": {"type": ["string", "null"]},
        "C": {"type": ["string", "null"]},
        "D": {"type": ["string", "null"]},
        "True": {"type": ["string", "null"]},
        "False": {"type": ["string", "null"]}
      }
    },
    "correct_answer": {"type": "string", "description": "The correct option key only"},
    "explanation": {"type": "string", "description": "Why the answer is correct and each other option is wrong"},
    "category": {"type": "string", "enum": ["scenario", "definition", "application"]},
    "source_citation": {
      "type": "object",
      "additionalProperties": false,
      "required": ["section", "heading", "quote"],
      "properties": {
        "section": {"type": ["string", "null"]},
        "heading": {"type": ["string", "null"]},
        "quote": {"type": ["string", "null"], "description": "At most 50 words"}
      }
    }
  }
}`

const (
	QuestionSchemaName = "bcba_question"
	BatchSchemaName    = "bcba_question_batch"
)

var (
	// QuestionSchema is the strict schema for GenerateOne.
	QuestionSchema = json.RawMessage(questionSchema)

	// BatchSchema wraps QuestionSchema in {"questions": [...]}.
	BatchSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["questions"],
  "properties": {
    "questions": {"type": "array", "items": ` + questionSchema + `}
  }
}`)
)
