package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// In-memory store fakes mirroring the PostgreSQL repositories' contracts,
// including the duplicate guard and the closing compare-and-set.

type fakeAttempts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Attempt
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{byID: make(map[uuid.UUID]*model.Attempt)}
}

func (f *fakeAttempts) Create(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.TestID == a.TestID && existing.StudentID == a.StudentID && !existing.Archived {
			return repository.ErrDuplicate
		}
	}
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttempts) GetInProgressByStudent(_ context.Context, studentID int) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.StudentID == studentID && a.Status == model.AttemptStatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAttempts) Close(_ context.Context, id uuid.UUID, status model.AttemptStatus, score int, reason string, closedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = status
	a.Score = &score
	a.CloseReason = reason
	a.SubmittedAt = &closedAt
	return true, nil
}

func (f *fakeAttempts) ListInProgress(_ context.Context) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.byID {
		if a.Status == model.AttemptStatusInProgress {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAttempts) Archive(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok || a.Status == model.AttemptStatusInProgress {
		return repository.ErrNotFound
	}
	a.Archived = true
	return nil
}

type fakeAnswers struct {
	mu      sync.Mutex
	answers map[string]*model.Answer
	awards  map[uuid.UUID][]repository.Award
}

func newFakeAnswers() *fakeAnswers {
	return &fakeAnswers{
		answers: make(map[string]*model.Answer),
		awards:  make(map[uuid.UUID][]repository.Award),
	}
}

func answerKey(attemptID, questionID uuid.UUID) string {
	return fmt.Sprintf("%s|%s", attemptID, questionID)
}

func (f *fakeAnswers) Upsert(_ context.Context, a *model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	cp.UpdatedAt = time.Now()
	f.answers[answerKey(a.AttemptID, a.QuestionID)] = &cp
	return nil
}

func (f *fakeAnswers) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Answer
	for _, a := range f.answers {
		if a.AttemptID == attemptID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAnswers) SetAwards(_ context.Context, attemptID uuid.UUID, awards []repository.Award) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awards[attemptID] = awards
	return nil
}

type fakeViolations struct {
	mu     sync.Mutex
	events []model.ViolationEvent
}

func (f *fakeViolations) Append(_ context.Context, ev *model.ViolationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeViolations) CountByKind(_ context.Context, attemptID uuid.UUID, kind model.ViolationKind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.AttemptID == attemptID && ev.Kind == kind && !ev.RecordedAfterTerminal {
			n++
		}
	}
	return n, nil
}

func (f *fakeViolations) CountAll(_ context.Context, attemptID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.AttemptID == attemptID && !ev.RecordedAfterTerminal {
			n++
		}
	}
	return n, nil
}

func (f *fakeViolations) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.ViolationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ViolationEvent
	for _, ev := range f.events {
		if ev.AttemptID == attemptID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	tests     map[uuid.UUID]*model.Test
	questions map[uuid.UUID]*model.Question
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tests:     make(map[uuid.UUID]*model.Test),
		questions: make(map[uuid.UUID]*model.Question),
	}
}

func (f *fakeCatalog) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	t, ok := f.tests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeCatalog) GetQuestion(_ context.Context, id uuid.UUID) (*model.Question, error) {
	q, ok := f.questions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return q, nil
}

func (f *fakeCatalog) GetQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	for _, q := range f.questions {
		if q.TestID == testID {
			out = append(out, *q)
		}
	}
	return out, nil
}

type fakeTimer struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled map[uuid.UUID]bool
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{
		scheduled: make(map[uuid.UUID]time.Time),
		cancelled: make(map[uuid.UUID]bool),
	}
}

func (f *fakeTimer) Schedule(_ context.Context, attemptID uuid.UUID, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scheduled[attemptID]; !ok {
		f.scheduled[attemptID] = deadline
	}
	return nil
}

func (f *fakeTimer) Cancel(_ context.Context, attemptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, attemptID)
	f.cancelled[attemptID] = true
	return nil
}

type fakeScorer struct {
	score  int
	awards []repository.Award
	calls  int
}

func (f *fakeScorer) ScoreAttempt(_ context.Context, _ []model.Question, _ []model.Answer) (int, []repository.Award, error) {
	f.calls++
	return f.score, f.awards, nil
}

type fakeKiller struct {
	mu     sync.Mutex
	killed []uuid.UUID
}

func (f *fakeKiller) KillAttempt(attemptID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, attemptID)
	return 1
}

// testRedis spins up a miniredis-backed client.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}
