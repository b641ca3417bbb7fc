package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Answer is a student's response to one question within an attempt.
// Resubmission overwrites the previous response while the attempt is
// in progress; AwardedPoints is set once, at finalization.
type Answer struct {
	AttemptID     uuid.UUID       `json:"attempt_id"`
	QuestionID    uuid.UUID       `json:"question_id"`
	OptionID      string          `json:"option_id,omitempty"`
	SourceCode    string          `json:"source_code,omitempty"`
	Language      string          `json:"language,omitempty"`
	ExecutionLog  json.RawMessage `json:"execution_log,omitempty"`
	AwardedPoints *int            `json:"awarded_points,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SubmitAnswerRequest is the payload for submitting or overwriting an answer.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	OptionID   string `json:"option_id" binding:"omitempty,max=10"`
	SourceCode string `json:"source_code" binding:"omitempty,max=65536"`
	Language   string `json:"language" binding:"omitempty,oneof=c cpp java python"`
}

// RunCodeRequest is the payload for a trial run against visible cases.
type RunCodeRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	SourceCode string `json:"source_code" binding:"required,max=65536"`
	Language   string `json:"language" binding:"required,oneof=c cpp java python"`
}
