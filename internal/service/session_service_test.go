package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type sessionFixture struct {
	svc        *SessionService
	attempts   *fakeAttempts
	answers    *fakeAnswers
	violations *fakeViolations
	catalog    *fakeCatalog
	timer      *fakeTimer
	scorer     *fakeScorer
	killer     *fakeKiller
	now        time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	fx := &sessionFixture{
		attempts:   newFakeAttempts(),
		answers:    newFakeAnswers(),
		violations: &fakeViolations{},
		catalog:    newFakeCatalog(),
		timer:      newFakeTimer(),
		scorer:     &fakeScorer{score: 10},
		killer:     &fakeKiller{},
		now:        time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	fx.svc = NewSessionService(
		fx.attempts, fx.answers, fx.violations, fx.catalog,
		fx.timer, fx.scorer, fx.killer, testRedis(t), zerolog.Nop(),
	)
	fx.svc.clock = func() time.Time { return fx.now }
	return fx
}

func (fx *sessionFixture) addTest(active bool, durationMinutes int) uuid.UUID {
	id := uuid.New()
	fx.catalog.tests[id] = &model.Test{
		ID:              id,
		Title:           "Sample Test",
		Kind:            model.TestKindExam,
		QuestionMix:     model.QuestionMixMixed,
		DurationMinutes: durationMinutes,
		IsActive:        active,
	}
	return id
}

func (fx *sessionFixture) addMCQ(testID uuid.UUID, points int) uuid.UUID {
	id := uuid.New()
	fx.catalog.questions[id] = &model.Question{
		ID:            id,
		TestID:        testID,
		Kind:          model.QuestionKindMCQ,
		Prompt:        "pick one",
		CorrectOption: "a",
		Points:        points,
	}
	return id
}

func TestStartAttemptFixesDeadline(t *testing.T) {
	fx := newSessionFixture(t)
	testID := fx.addTest(true, 45)

	attempt, err := fx.svc.Start(context.Background(), testID, 7)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if attempt.Status != model.AttemptStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", attempt.Status)
	}
	wantDeadline := fx.now.Add(45 * time.Minute)
	if !attempt.DeadlineAt.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", attempt.DeadlineAt, wantDeadline)
	}
	if got, ok := fx.timer.scheduled[attempt.ID]; !ok || !got.Equal(wantDeadline) {
		t.Errorf("scheduled deadline = %v (present=%t), want %v", got, ok, wantDeadline)
	}
}

func TestStartAttemptSecondStartRejected(t *testing.T) {
	fx := newSessionFixture(t)
	testID := fx.addTest(true, 30)

	if _, err := fx.svc.Start(context.Background(), testID, 7); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	_, err := fx.svc.Start(context.Background(), testID, 7)
	if !errors.Is(err, ErrAlreadyAttempted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyAttempted", err)
	}
}

func TestStartAttemptInactiveTest(t *testing.T) {
	fx := newSessionFixture(t)
	testID := fx.addTest(false, 30)

	_, err := fx.svc.Start(context.Background(), testID, 7)
	if !errors.Is(err, ErrTestInactive) {
		t.Fatalf("Start() error = %v, want ErrTestInactive", err)
	}
}

func TestStartAttemptAllowedAfterOverride(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, err := fx.svc.Start(ctx, testID, 7)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := fx.svc.Finalize(ctx, attempt.ID, 7); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if err := fx.svc.AdminOverride(ctx, attempt.ID); err != nil {
		t.Fatalf("AdminOverride() error = %v", err)
	}
	if _, err := fx.svc.Start(ctx, testID, 7); err != nil {
		t.Fatalf("Start() after override error = %v", err)
	}
}

func TestSubmitAnswerOverwrites(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)
	questionID := fx.addMCQ(testID, 5)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	for _, option := range []string{"a", "b"} {
		err := fx.svc.SubmitAnswer(ctx, attempt.ID, 7, &model.SubmitAnswerRequest{
			QuestionID: questionID.String(),
			OptionID:   option,
		})
		if err != nil {
			t.Fatalf("SubmitAnswer(%q) error = %v", option, err)
		}
	}

	answers, _ := fx.answers.ListByAttempt(ctx, attempt.ID)
	if len(answers) != 1 {
		t.Fatalf("answer count = %d, want 1", len(answers))
	}
	if answers[0].OptionID != "b" {
		t.Errorf("option = %q, want %q (last write wins)", answers[0].OptionID, "b")
	}
}

func TestSubmitAnswerKindMismatch(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)
	questionID := fx.addMCQ(testID, 5)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	err := fx.svc.SubmitAnswer(ctx, attempt.ID, 7, &model.SubmitAnswerRequest{
		QuestionID: questionID.String(),
		SourceCode: "print('hi')",
		Language:   "python",
	})
	if !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("SubmitAnswer() error = %v, want ErrInvalidAnswer", err)
	}
}

func TestSubmitAnswerQuestionFromOtherTest(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)
	otherTest := fx.addTest(true, 30)
	foreignQuestion := fx.addMCQ(otherTest, 5)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	err := fx.svc.SubmitAnswer(ctx, attempt.ID, 7, &model.SubmitAnswerRequest{
		QuestionID: foreignQuestion.String(),
		OptionID:   "a",
	})
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("SubmitAnswer() error = %v, want ErrQuestionNotFound", err)
	}
}

func TestSubmitAnswerPastDeadlineExpiresAttempt(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)
	questionID := fx.addMCQ(testID, 5)

	attempt, _ := fx.svc.Start(ctx, testID, 7)
	fx.now = fx.now.Add(31 * time.Minute)

	err := fx.svc.SubmitAnswer(ctx, attempt.ID, 7, &model.SubmitAnswerRequest{
		QuestionID: questionID.String(),
		OptionID:   "a",
	})
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("SubmitAnswer() error = %v, want ErrDeadlineExceeded", err)
	}

	closed, _ := fx.attempts.GetByID(ctx, attempt.ID)
	if closed.Status != model.AttemptStatusAutoSubmitted {
		t.Errorf("status = %s, want AUTO_SUBMITTED", closed.Status)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	first, err := fx.svc.Finalize(ctx, attempt.ID, 7)
	if err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	second, err := fx.svc.Finalize(ctx, attempt.ID, 7)
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}

	if first.Status != model.AttemptStatusSubmitted || second.Status != model.AttemptStatusSubmitted {
		t.Errorf("statuses = %s, %s, want SUBMITTED both times", first.Status, second.Status)
	}
	if *first.Score != *second.Score {
		t.Errorf("scores differ: %d vs %d", *first.Score, *second.Score)
	}
	if fx.scorer.calls != 1 {
		t.Errorf("scorer calls = %d, want 1 (terminal attempt must not regrade)", fx.scorer.calls)
	}
}

func TestAutoExpireIsIdempotent(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	if err := fx.svc.AutoExpire(ctx, attempt.ID); err != nil {
		t.Fatalf("first AutoExpire() error = %v", err)
	}
	if err := fx.svc.AutoExpire(ctx, attempt.ID); err != nil {
		t.Fatalf("second AutoExpire() error = %v", err)
	}

	closed, _ := fx.attempts.GetByID(ctx, attempt.ID)
	if closed.Status != model.AttemptStatusAutoSubmitted {
		t.Errorf("status = %s, want AUTO_SUBMITTED", closed.Status)
	}
	if closed.CloseReason != "deadline_expired" {
		t.Errorf("close reason = %q, want deadline_expired", closed.CloseReason)
	}
	if fx.scorer.calls != 1 {
		t.Errorf("scorer calls = %d, want 1", fx.scorer.calls)
	}
	if !fx.timer.cancelled[attempt.ID] {
		t.Error("deadline entry not cancelled after expiry")
	}
}

func TestFinalizeAfterAutoExpireKeepsOutcome(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)
	if err := fx.svc.AutoExpire(ctx, attempt.ID); err != nil {
		t.Fatalf("AutoExpire() error = %v", err)
	}

	final, err := fx.svc.Finalize(ctx, attempt.ID, 7)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if final.Status != model.AttemptStatusAutoSubmitted {
		t.Errorf("status = %s, want AUTO_SUBMITTED preserved", final.Status)
	}
}

func TestTerminateKillsSandboxJobs(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	closed, err := fx.svc.Terminate(ctx, attempt.ID, "violation_policy:tab_switch")
	if err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if closed.Status != model.AttemptStatusTerminated {
		t.Errorf("status = %s, want TERMINATED", closed.Status)
	}
	if closed.CloseReason != "violation_policy:tab_switch" {
		t.Errorf("close reason = %q", closed.CloseReason)
	}
	if len(fx.killer.killed) != 1 || fx.killer.killed[0] != attempt.ID {
		t.Errorf("killed = %v, want [%s]", fx.killer.killed, attempt.ID)
	}

	if _, err := fx.svc.Terminate(ctx, attempt.ID, "again"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("second Terminate() error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestGetStatusHidesForeignAttempts(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	if _, err := fx.svc.GetStatus(ctx, attempt.ID, 99); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("GetStatus() as other student error = %v, want ErrAttemptNotFound", err)
	}
}

func TestGetStatusRemainingSeconds(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)
	fx.now = fx.now.Add(10 * time.Minute)

	view, err := fx.svc.GetStatus(ctx, attempt.ID, 7)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if view.RemainingSeconds != 20*60 {
		t.Errorf("remaining = %d, want %d", view.RemainingSeconds, 20*60)
	}
}

func TestGetActiveAttemptFallsBackToStore(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	// Simulate cache loss.
	fx.svc.rdb.FlushAll(ctx)

	found, err := fx.svc.GetActiveAttempt(ctx, 7)
	if err != nil {
		t.Fatalf("GetActiveAttempt() error = %v", err)
	}
	if found.ID != attempt.ID {
		t.Errorf("attempt = %s, want %s", found.ID, attempt.ID)
	}
}

func TestAdminOverrideRequiresTerminalAttempt(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	testID := fx.addTest(true, 30)

	attempt, _ := fx.svc.Start(ctx, testID, 7)

	if err := fx.svc.AdminOverride(ctx, attempt.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("AdminOverride() on open attempt error = %v, want ErrInvalidStateTransition", err)
	}
}

func TestRecoverDeadlinesReArmsOpenAttempts(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	a1, _ := fx.svc.Start(ctx, fx.addTest(true, 30), 1)
	a2, _ := fx.svc.Start(ctx, fx.addTest(true, 60), 2)

	// Simulate a restart losing the deadline index.
	fx.timer.scheduled = map[uuid.UUID]time.Time{}

	n, err := fx.svc.RecoverDeadlines(ctx)
	if err != nil {
		t.Fatalf("RecoverDeadlines() error = %v", err)
	}
	if n != 2 {
		t.Errorf("recovered = %d, want 2", n)
	}
	for _, id := range []uuid.UUID{a1.ID, a2.ID} {
		if _, ok := fx.timer.scheduled[id]; !ok {
			t.Errorf("attempt %s missing from re-armed index", id)
		}
	}
}
