package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of running one submission against one test case.
type Status string

const (
	StatusPassed            Status = "PASSED"
	StatusWrongAnswer       Status = "WRONG_ANSWER"
	StatusCompileError      Status = "COMPILE_ERROR"
	StatusRuntimeError      Status = "RUNTIME_ERROR"
	StatusTimeLimitExceeded Status = "TIME_LIMIT_EXCEEDED"
	StatusMemoryExceeded    Status = "MEMORY_EXCEEDED"
	// StatusTerminated marks a job killed on request (attempt terminated),
	// deliberately distinct from any pass/fail verdict.
	StatusTerminated Status = "TERMINATED"
)

// ErrBusy is returned when the worker pool has no free slot. Callers may
// retry with backoff; the pool never queues.
var ErrBusy = errors.New("sandbox: worker pool saturated")

// Limits bounds one execution.
type Limits struct {
	WallTime time.Duration
	MemoryMB int
}

// Job is one (source, language, test case) triple to execute in isolation.
type Job struct {
	AttemptID uuid.UUID
	Language  Language
	Source    string
	Stdin     string
	Expected  string
	Limits    Limits
	Compare   Comparator
}

// Result carries the verdict and captured output of one job.
type Result struct {
	Status   Status        `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
}

// Runner executes jobs. The pool and the host executor both implement it,
// which keeps grading logic testable against fakes.
type Runner interface {
	Execute(ctx context.Context, job Job) (Result, error)
}
