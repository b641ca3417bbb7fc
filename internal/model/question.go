package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionKind enumerates supported question types.
type QuestionKind string

const (
	QuestionKindMCQ    QuestionKind = "MCQ"
	QuestionKindCoding QuestionKind = "CODING"
)

// Question represents a single test question from the catalog.
// Options holds the MCQ option list as raw JSON; CorrectOption is the
// id of the correct option and is never sent to students.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	TestID        uuid.UUID       `json:"test_id"`
	Kind          QuestionKind    `json:"kind"`
	Prompt        string          `json:"prompt"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectOption string          `json:"-"`
	Points        int             `json:"points"`
	TestCases     []TestCase      `json:"-"`
	OrderNum      int             `json:"order_num"`
}

// TestCase is one reference input/output pair for a coding question.
// Hidden cases are graded but never shown to students.
type TestCase struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	Input      string    `json:"input"`
	Expected   string    `json:"expected"`
	Hidden     bool      `json:"hidden"`
	OrderNum   int       `json:"order_num"`
}
