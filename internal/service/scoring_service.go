package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/repository"
	"github.com/codexam/codexam-backend/internal/sandbox"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	execRetries    = 3
	execBackoff    = 200 * time.Millisecond
	maxLoggedBytes = 2048
)

// ScoringService grades a complete attempt. MCQ questions are compared
// against the stored correct option; coding questions run through the
// sandbox against every test case. Grading never fails an attempt close:
// any question that cannot be graded is awarded zero and the cause lands
// in its execution log.
type ScoringService struct {
	runner       sandbox.Runner
	limits       sandbox.Limits
	compare      sandbox.Comparator
	allOrNothing bool
	log          zerolog.Logger
}

// NewScoringService creates a ScoringService drawing execution limits
// and the scoring policy from cfg.
func NewScoringService(runner sandbox.Runner, cfg *config.Config, log zerolog.Logger) *ScoringService {
	return &ScoringService{
		runner: runner,
		limits: sandbox.Limits{
			WallTime: cfg.SandboxWallTime,
			MemoryMB: cfg.SandboxMemoryMB,
		},
		compare:      sandbox.ExactMatch,
		allOrNothing: cfg.ScoringAllOrNothing,
		log:          log.With().Str("component", "scoring_service").Logger(),
	}
}

// caseOutcome is one entry of a coding answer's execution log.
type caseOutcome struct {
	Case     int            `json:"case"`
	Status   sandbox.Status `json:"status"`
	TimeMs   int64          `json:"time_ms"`
	ExitCode int            `json:"exit_code"`
	Stderr   string         `json:"stderr,omitempty"`
}

// ScoreAttempt grades every question and returns the attempt total plus
// per-question awards. Unanswered questions score zero and produce no
// award row.
func (s *ScoringService) ScoreAttempt(ctx context.Context, questions []model.Question, answers []model.Answer) (int, []repository.Award, error) {
	byQuestion := make(map[string]*model.Answer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID.String()] = &answers[i]
	}

	total := 0
	awards := make([]repository.Award, 0, len(answers))
	for _, q := range questions {
		ans, ok := byQuestion[q.ID.String()]
		if !ok {
			continue
		}

		var points int
		var execLog json.RawMessage
		switch q.Kind {
		case model.QuestionKindMCQ:
			points = s.scoreMCQ(&q, ans)
		case model.QuestionKindCoding:
			points, execLog = s.scoreCoding(ctx, &q, ans)
		}

		total += points
		awards = append(awards, repository.Award{
			QuestionID:   q.ID,
			Points:       points,
			ExecutionLog: execLog,
		})
	}
	return total, awards, nil
}

func (s *ScoringService) scoreMCQ(q *model.Question, ans *model.Answer) int {
	if ans.OptionID != "" && ans.OptionID == q.CorrectOption {
		return q.Points
	}
	return 0
}

// scoreCoding runs the submission against every test case. A compile
// error short-circuits the question to zero. Proportional scoring is
// floor(points * passed / total); the all-or-nothing policy requires a
// clean sweep.
func (s *ScoringService) scoreCoding(ctx context.Context, q *model.Question, ans *model.Answer) (int, json.RawMessage) {
	lang, ok := sandbox.ParseLanguage(ans.Language)
	if !ok {
		return 0, mustLog([]caseOutcome{{Case: 1, Status: sandbox.StatusRuntimeError, Stderr: "unsupported language"}})
	}
	if len(q.TestCases) == 0 {
		s.log.Warn().Str("question_id", q.ID.String()).Msg("Coding question has no test cases")
		return 0, nil
	}

	passed := 0
	outcomes := make([]caseOutcome, 0, len(q.TestCases))
	for i, tc := range q.TestCases {
		res, err := s.executeCase(ctx, lang, ans, &tc)
		if err != nil {
			s.log.Error().Err(err).
				Str("attempt_id", ans.AttemptID.String()).
				Str("question_id", q.ID.String()).
				Int("case", i+1).
				Msg("Sandbox execution failed")
			outcomes = append(outcomes, caseOutcome{Case: i + 1, Status: sandbox.StatusRuntimeError, Stderr: "execution unavailable"})
			continue
		}

		oc := caseOutcome{
			Case:     i + 1,
			Status:   res.Status,
			TimeMs:   res.Duration.Milliseconds(),
			ExitCode: res.ExitCode,
		}
		// Hidden cases never leak output back to the student.
		if !tc.Hidden && res.Status != sandbox.StatusPassed {
			oc.Stderr = capString(res.Stderr, maxLoggedBytes)
		}
		outcomes = append(outcomes, oc)

		if res.Status == sandbox.StatusCompileError {
			return 0, mustLog(outcomes)
		}
		if res.Status == sandbox.StatusPassed {
			passed++
		}
	}

	points := q.Points * passed / len(q.TestCases)
	if s.allOrNothing && passed != len(q.TestCases) {
		points = 0
	}
	return points, mustLog(outcomes)
}

// SampleRunResult is one visible-case verdict of a trial run.
type SampleRunResult struct {
	Case   int            `json:"case"`
	Status sandbox.Status `json:"status"`
	Stdout string         `json:"stdout,omitempty"`
	Stderr string         `json:"stderr,omitempty"`
	TimeMs int64          `json:"time_ms"`
}

// SampleRun executes a submission against the visible test cases only,
// for in-exam trial runs. Unlike finalization there is no retry: pool
// saturation surfaces as sandbox.ErrBusy and the client retries.
func (s *ScoringService) SampleRun(ctx context.Context, attemptID uuid.UUID, q *model.Question, source, language string) ([]SampleRunResult, error) {
	lang, ok := sandbox.ParseLanguage(language)
	if !ok {
		return nil, ErrInvalidAnswer
	}

	var results []SampleRunResult
	n := 0
	for _, tc := range q.TestCases {
		if tc.Hidden {
			continue
		}
		n++

		res, err := s.runner.Execute(ctx, sandbox.Job{
			AttemptID: attemptID,
			Language:  lang,
			Source:    source,
			Stdin:     tc.Input,
			Expected:  tc.Expected,
			Limits:    s.limits,
			Compare:   s.compare,
		})
		if err != nil {
			return nil, err
		}

		results = append(results, SampleRunResult{
			Case:   n,
			Status: res.Status,
			Stdout: capString(res.Stdout, maxLoggedBytes),
			Stderr: capString(res.Stderr, maxLoggedBytes),
			TimeMs: res.Duration.Milliseconds(),
		})
		if res.Status == sandbox.StatusCompileError {
			break
		}
	}
	return results, nil
}

// executeCase submits one job, retrying briefly when the pool is
// saturated so finalization does not lose score to a transient spike.
func (s *ScoringService) executeCase(ctx context.Context, lang sandbox.Language, ans *model.Answer, tc *model.TestCase) (sandbox.Result, error) {
	job := sandbox.Job{
		AttemptID: ans.AttemptID,
		Language:  lang,
		Source:    ans.SourceCode,
		Stdin:     tc.Input,
		Expected:  tc.Expected,
		Limits:    s.limits,
		Compare:   s.compare,
	}

	backoff := execBackoff
	var lastErr error
	for try := 0; try < execRetries; try++ {
		res, err := s.runner.Execute(ctx, job)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, sandbox.ErrBusy) {
			return sandbox.Result{}, err
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return sandbox.Result{}, ctx.Err()
		}
	}
	return sandbox.Result{}, lastErr
}

func mustLog(outcomes []caseOutcome) json.RawMessage {
	b, err := json.Marshal(outcomes)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
