package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. IN_PROGRESS is the only
// non-terminal state; transitions are monotonic and never leave a
// terminal state.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted     AttemptStatus = "SUBMITTED"
	AttemptStatusAutoSubmitted AttemptStatus = "AUTO_SUBMITTED"
	AttemptStatusTerminated    AttemptStatus = "TERMINATED"
)

// Terminal reports whether the status is a closing state.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusAutoSubmitted || s == AttemptStatusTerminated
}

// Attempt is one student's run-through of one test. DeadlineAt is fixed
// at creation (started_at + duration) and never mutated; Score is set
// exactly once, together with the closing status transition. Attempts
// are never deleted; Archived marks an attempt released from the
// one-attempt block by an admin override.
type Attempt struct {
	ID          uuid.UUID     `json:"id"`
	TestID      uuid.UUID     `json:"test_id"`
	StudentID   int           `json:"student_id"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	DeadlineAt  time.Time     `json:"deadline_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	Score       *int          `json:"score,omitempty"`
	CloseReason string        `json:"close_reason,omitempty"`
	Archived    bool          `json:"archived"`
}

// RemainingSeconds returns whole seconds until the deadline, floored at zero.
func (a *Attempt) RemainingSeconds(now time.Time) int {
	rem := a.DeadlineAt.Sub(now)
	if rem < 0 {
		rem = 0
	}
	return int(rem.Seconds())
}

// StartAttemptRequest is the payload for opening an attempt.
type StartAttemptRequest struct {
	TestID string `json:"test_id" binding:"required,uuid"`
}

// AttemptStatusView is the public status projection returned to clients.
type AttemptStatusView struct {
	ID               uuid.UUID     `json:"id"`
	Status           AttemptStatus `json:"status"`
	DeadlineAt       time.Time     `json:"deadline_at"`
	RemainingSeconds int           `json:"remaining_seconds"`
	ViolationCount   int           `json:"violation_count"`
	Score            *int          `json:"score,omitempty"`
}
