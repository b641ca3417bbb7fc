package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/sandbox"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scriptedRunner returns canned results keyed by job stdin, with an
// optional number of ErrBusy rejections before succeeding.
type scriptedRunner struct {
	mu      sync.Mutex
	results map[string]sandbox.Result
	busy    int
	calls   int
}

func (r *scriptedRunner) Execute(_ context.Context, job sandbox.Job) (sandbox.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.busy > 0 {
		r.busy--
		return sandbox.Result{}, sandbox.ErrBusy
	}
	res, ok := r.results[job.Stdin]
	if !ok {
		return sandbox.Result{Status: sandbox.StatusRuntimeError}, nil
	}
	return res, nil
}

func scoringConfig(allOrNothing bool) *config.Config {
	return &config.Config{
		SandboxWallTime:     2 * time.Second,
		SandboxMemoryMB:     256,
		ScoringAllOrNothing: allOrNothing,
	}
}

func codingQuestion(points int, cases int) *model.Question {
	q := &model.Question{
		ID:     uuid.New(),
		TestID: uuid.New(),
		Kind:   model.QuestionKindCoding,
		Points: points,
	}
	for i := 0; i < cases; i++ {
		q.TestCases = append(q.TestCases, model.TestCase{
			ID:       uuid.New(),
			Input:    string(rune('a' + i)),
			Expected: "ok",
		})
	}
	return q
}

func codingAnswer(q *model.Question) model.Answer {
	return model.Answer{
		AttemptID:  uuid.New(),
		QuestionID: q.ID,
		SourceCode: "int main() { return 0; }",
		Language:   "c",
	}
}

func TestScoreAttemptMCQ(t *testing.T) {
	svc := NewScoringService(&scriptedRunner{}, scoringConfig(false), zerolog.Nop())

	q := &model.Question{
		ID:            uuid.New(),
		Kind:          model.QuestionKindMCQ,
		CorrectOption: "b",
		Points:        5,
	}
	questions := []model.Question{*q}

	tests := []struct {
		name   string
		option string
		want   int
	}{
		{"correct option", "b", 5},
		{"wrong option", "a", 0},
		{"no selection", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers := []model.Answer{{QuestionID: q.ID, OptionID: tt.option}}
			total, _, err := svc.ScoreAttempt(context.Background(), questions, answers)
			if err != nil {
				t.Fatalf("ScoreAttempt() error = %v", err)
			}
			if total != tt.want {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}
}

func TestScoreAttemptUnansweredScoresZero(t *testing.T) {
	svc := NewScoringService(&scriptedRunner{}, scoringConfig(false), zerolog.Nop())

	questions := []model.Question{
		{ID: uuid.New(), Kind: model.QuestionKindMCQ, CorrectOption: "a", Points: 5},
	}
	total, awards, err := svc.ScoreAttempt(context.Background(), questions, nil)
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 0 || len(awards) != 0 {
		t.Errorf("total = %d, awards = %d, want 0 and none", total, len(awards))
	}
}

func TestScoreCodingProportional(t *testing.T) {
	q := codingQuestion(9, 3)
	runner := &scriptedRunner{results: map[string]sandbox.Result{
		q.TestCases[0].Input: {Status: sandbox.StatusPassed},
		q.TestCases[1].Input: {Status: sandbox.StatusPassed},
		q.TestCases[2].Input: {Status: sandbox.StatusWrongAnswer},
	}}
	svc := NewScoringService(runner, scoringConfig(false), zerolog.Nop())

	total, awards, err := svc.ScoreAttempt(context.Background(), []model.Question{*q}, []model.Answer{codingAnswer(q)})
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6 (floor of 9*2/3)", total)
	}
	if len(awards) != 1 || awards[0].Points != 6 {
		t.Fatalf("awards = %+v, want one award of 6", awards)
	}

	var outcomes []caseOutcome
	if err := json.Unmarshal(awards[0].ExecutionLog, &outcomes); err != nil {
		t.Fatalf("execution log is not valid JSON: %v", err)
	}
	if len(outcomes) != 3 {
		t.Errorf("logged cases = %d, want 3", len(outcomes))
	}
}

func TestScoreCodingAllOrNothing(t *testing.T) {
	q := codingQuestion(9, 3)
	runner := &scriptedRunner{results: map[string]sandbox.Result{
		q.TestCases[0].Input: {Status: sandbox.StatusPassed},
		q.TestCases[1].Input: {Status: sandbox.StatusPassed},
		q.TestCases[2].Input: {Status: sandbox.StatusWrongAnswer},
	}}
	svc := NewScoringService(runner, scoringConfig(true), zerolog.Nop())

	total, _, err := svc.ScoreAttempt(context.Background(), []model.Question{*q}, []model.Answer{codingAnswer(q)})
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 under all-or-nothing", total)
	}
}

func TestScoreCodingCompileErrorShortCircuits(t *testing.T) {
	q := codingQuestion(9, 3)
	runner := &scriptedRunner{results: map[string]sandbox.Result{
		q.TestCases[0].Input: {Status: sandbox.StatusCompileError, Stderr: "main.c:1: error"},
	}}
	svc := NewScoringService(runner, scoringConfig(false), zerolog.Nop())

	total, awards, err := svc.ScoreAttempt(context.Background(), []model.Question{*q}, []model.Answer{codingAnswer(q)})
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1 (remaining cases skipped)", runner.calls)
	}

	var outcomes []caseOutcome
	if err := json.Unmarshal(awards[0].ExecutionLog, &outcomes); err != nil {
		t.Fatalf("execution log is not valid JSON: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != sandbox.StatusCompileError {
		t.Errorf("outcomes = %+v, want single COMPILE_ERROR entry", outcomes)
	}
}

func TestScoreCodingRetriesBusyPool(t *testing.T) {
	q := codingQuestion(5, 1)
	runner := &scriptedRunner{
		busy:    2,
		results: map[string]sandbox.Result{q.TestCases[0].Input: {Status: sandbox.StatusPassed}},
	}
	svc := NewScoringService(runner, scoringConfig(false), zerolog.Nop())

	total, _, err := svc.ScoreAttempt(context.Background(), []model.Question{*q}, []model.Answer{codingAnswer(q)})
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 after busy retries", total)
	}
	if runner.calls != 3 {
		t.Errorf("runner calls = %d, want 3", runner.calls)
	}
}

func TestScoreCodingUnknownLanguage(t *testing.T) {
	q := codingQuestion(5, 1)
	svc := NewScoringService(&scriptedRunner{}, scoringConfig(false), zerolog.Nop())

	ans := codingAnswer(q)
	ans.Language = "cobol"
	total, awards, err := svc.ScoreAttempt(context.Background(), []model.Question{*q}, []model.Answer{ans})
	if err != nil {
		t.Fatalf("ScoreAttempt() error = %v", err)
	}
	if total != 0 || len(awards) != 1 || awards[0].Points != 0 {
		t.Errorf("total = %d, awards = %+v, want zero award", total, awards)
	}
}

func TestSampleRunSkipsHiddenCases(t *testing.T) {
	q := codingQuestion(5, 2)
	q.TestCases[1].Hidden = true
	runner := &scriptedRunner{results: map[string]sandbox.Result{
		q.TestCases[0].Input: {Status: sandbox.StatusPassed, Stdout: "ok"},
	}}
	svc := NewScoringService(runner, scoringConfig(false), zerolog.Nop())

	results, err := svc.SampleRun(context.Background(), uuid.New(), q, "src", "c")
	if err != nil {
		t.Fatalf("SampleRun() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (hidden case excluded)", len(results))
	}
	if results[0].Stdout != "ok" {
		t.Errorf("stdout = %q, want %q", results[0].Stdout, "ok")
	}
}

func TestSampleRunSurfacesBusy(t *testing.T) {
	q := codingQuestion(5, 1)
	runner := &scriptedRunner{busy: 1}
	svc := NewScoringService(runner, scoringConfig(false), zerolog.Nop())

	_, err := svc.SampleRun(context.Background(), uuid.New(), q, "src", "c")
	if !errors.Is(err, sandbox.ErrBusy) {
		t.Fatalf("SampleRun() error = %v, want sandbox.ErrBusy", err)
	}
}
