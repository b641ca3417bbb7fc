package service

import (
	"context"
	"errors"
	"time"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/repository"
	"github.com/google/uuid"
)

// Domain errors surfaced to handlers. Validation errors are terminal to
// the call and never retried internally.
var (
	ErrAlreadyAttempted       = errors.New("test already attempted")
	ErrTestInactive           = errors.New("test is not active")
	ErrTestNotFound           = errors.New("test not found")
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrQuestionNotFound       = errors.New("question not found")
	ErrInvalidStateTransition = errors.New("attempt is not in progress")
	ErrInvalidAnswer          = errors.New("answer does not match question kind")
	ErrDeadlineExceeded       = errors.New("attempt deadline exceeded")
	ErrPersistence            = errors.New("persistence failure")
)

// AttemptStore is the attempt persistence surface the session manager
// needs. The repository package provides the PostgreSQL implementation;
// tests substitute in-memory fakes.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetInProgressByStudent(ctx context.Context, studentID int) (*model.Attempt, error)
	Close(ctx context.Context, id uuid.UUID, status model.AttemptStatus, score int, reason string, closedAt time.Time) (bool, error)
	ListInProgress(ctx context.Context) ([]model.Attempt, error)
	Archive(ctx context.Context, id uuid.UUID) error
}

// AnswerStore persists student responses and grading outcomes.
type AnswerStore interface {
	Upsert(ctx context.Context, a *model.Answer) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
	SetAwards(ctx context.Context, attemptID uuid.UUID, awards []repository.Award) error
}

// ViolationStore persists the append-only proctoring audit trail.
type ViolationStore interface {
	Append(ctx context.Context, ev *model.ViolationEvent) error
	CountByKind(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (int, error)
	CountAll(ctx context.Context, attemptID uuid.UUID) (int, error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.ViolationEvent, error)
}

// Catalog reads test and question definitions.
type Catalog interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error)
	GetQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
}

// DeadlineScheduler registers absolute attempt deadlines for the sweep.
type DeadlineScheduler interface {
	Schedule(ctx context.Context, attemptID uuid.UUID, deadline time.Time) error
	Cancel(ctx context.Context, attemptID uuid.UUID) error
}

// Scorer grades a full attempt.
type Scorer interface {
	ScoreAttempt(ctx context.Context, questions []model.Question, answers []model.Answer) (int, []repository.Award, error)
}

// SandboxKiller cancels in-flight executions for a terminated attempt.
type SandboxKiller interface {
	KillAttempt(attemptID uuid.UUID) int
}
