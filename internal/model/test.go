package model

import (
	"github.com/google/uuid"
)

// TestKind distinguishes low-stakes quizzes from proctored exams.
type TestKind string

const (
	TestKindQuiz TestKind = "QUIZ"
	TestKindExam TestKind = "EXAM"
)

// QuestionMix describes which question kinds a test contains.
type QuestionMix string

const (
	QuestionMixMCQ    QuestionMix = "MCQ"
	QuestionMixCoding QuestionMix = "CODING"
	QuestionMixMixed  QuestionMix = "MIXED"
)

// Test is a read-only catalog entity. The engine never mutates tests;
// only is_active may change upstream once attempts exist.
type Test struct {
	ID              uuid.UUID   `json:"id"`
	CourseID        uuid.UUID   `json:"course_id"`
	Title           string      `json:"title"`
	Kind            TestKind    `json:"kind"`
	QuestionMix     QuestionMix `json:"question_mix"`
	DurationMinutes int         `json:"duration_minutes"`
	IsActive        bool        `json:"is_active"`
}
