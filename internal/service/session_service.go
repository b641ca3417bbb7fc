package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	persistRetries = 3
	persistBackoff = 100 * time.Millisecond
)

// SessionService owns the attempt lifecycle: start, answer intake and
// the three closing transitions (submit, auto-submit, terminate). All
// closing paths funnel through one compare-and-set on the attempts row,
// so exactly one writer wins no matter how transitions race.
type SessionService struct {
	attempts   AttemptStore
	answers    AnswerStore
	violations ViolationStore
	catalog    Catalog
	timer      DeadlineScheduler
	scorer     Scorer
	killer     SandboxKiller
	rdb        *redis.Client
	clock      func() time.Time
	log        zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	attempts AttemptStore,
	answers AnswerStore,
	violations ViolationStore,
	catalog Catalog,
	timer DeadlineScheduler,
	scorer Scorer,
	killer SandboxKiller,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		attempts:   attempts,
		answers:    answers,
		violations: violations,
		catalog:    catalog,
		timer:      timer,
		scorer:     scorer,
		killer:     killer,
		rdb:        rdb,
		clock:      time.Now,
		log:        log.With().Str("component", "session_service").Logger(),
	}
}

// Start opens an attempt for a student on an active test. The absolute
// deadline is fixed here and never moves. The one-attempt rule is
// enforced by the store's unique index, so a concurrent double-start has
// exactly one winner.
func (s *SessionService) Start(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	test, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	if !test.IsActive {
		return nil, ErrTestInactive
	}

	now := s.clock()
	attempt := &model.Attempt{
		ID:         uuid.New(),
		TestID:     testID,
		StudentID:  studentID,
		Status:     model.AttemptStatusInProgress,
		StartedAt:  now,
		DeadlineAt: now.Add(time.Duration(test.DurationMinutes) * time.Minute),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyAttempted
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	// A failed schedule self-heals: the deadline worker periodically
	// re-arms from the attempts table.
	if err := s.timer.Schedule(ctx, attempt.ID, attempt.DeadlineAt); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to schedule deadline")
	}

	ttl := attempt.DeadlineAt.Sub(now) + time.Hour
	if err := s.rdb.Set(ctx, config.CacheKey.StudentActiveAttemptKey(studentID), attempt.ID.String(), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache active attempt")
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("test_id", testID.String()).
		Int("student_id", studentID).
		Time("deadline_at", attempt.DeadlineAt).
		Msg("Attempt started")
	return attempt, nil
}

// SubmitAnswer records or overwrites a response. A submission landing
// past the deadline is rejected and triggers the expiry transition
// immediately instead of waiting for the sweep.
func (s *SessionService) SubmitAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.SubmitAnswerRequest) error {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if attempt.Status.Terminal() {
		return ErrInvalidStateTransition
	}
	if s.clock().After(attempt.DeadlineAt) {
		if err := s.AutoExpire(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Inline expiry failed")
		}
		return ErrDeadlineExceeded
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return ErrQuestionNotFound
	}
	question, err := s.catalog.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("load question: %w", err)
	}
	if question.TestID != attempt.TestID {
		return ErrQuestionNotFound
	}

	switch question.Kind {
	case model.QuestionKindMCQ:
		if req.OptionID == "" || req.SourceCode != "" {
			return ErrInvalidAnswer
		}
	case model.QuestionKindCoding:
		if req.SourceCode == "" || req.Language == "" {
			return ErrInvalidAnswer
		}
	}

	answer := &model.Answer{
		AttemptID:  attemptID,
		QuestionID: questionID,
		OptionID:   req.OptionID,
		SourceCode: req.SourceCode,
		Language:   req.Language,
	}
	if err := withRetry(ctx, func() error { return s.answers.Upsert(ctx, answer) }); err != nil {
		return fmt.Errorf("%w: save answer: %v", ErrPersistence, err)
	}
	return nil
}

// Finalize closes an attempt as SUBMITTED. Calling it on an attempt that
// is already terminal is not an error: the stored outcome is returned
// unchanged, which makes client retries safe.
func (s *SessionService) Finalize(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return attempt, nil
	}

	closed, won, err := s.close(ctx, attempt, model.AttemptStatusSubmitted, "student_submit")
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent transition won the race; its outcome stands.
		return closed, nil
	}
	return closed, nil
}

// AutoExpire closes an attempt as AUTO_SUBMITTED when its deadline has
// passed. It is idempotent: terminal attempts and lost races are no-ops,
// so at-least-once delivery from the deadline index is safe.
func (s *SessionService) AutoExpire(ctx context.Context, attemptID uuid.UUID) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Stale index entry; drop it.
			if cerr := s.timer.Cancel(ctx, attemptID); cerr != nil {
				s.log.Warn().Err(cerr).Msg("Failed to drop stale deadline")
			}
			return nil
		}
		return fmt.Errorf("load attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		if err := s.timer.Cancel(ctx, attemptID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to drop settled deadline")
		}
		return nil
	}

	_, _, err = s.close(ctx, attempt, model.AttemptStatusAutoSubmitted, "deadline_expired")
	return err
}

// Terminate force-closes an in-progress attempt and kills any of its
// in-flight sandbox executions.
func (s *SessionService) Terminate(ctx context.Context, attemptID uuid.UUID, reason string) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if attempt.Status.Terminal() {
		return nil, ErrInvalidStateTransition
	}

	s.killer.KillAttempt(attemptID)

	closed, won, err := s.close(ctx, attempt, model.AttemptStatusTerminated, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrInvalidStateTransition
	}
	return closed, nil
}

// GetStatus returns the public status projection, including remaining
// time against the server clock and the violation count.
func (s *SessionService) GetStatus(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptStatusView, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	count := s.violationCount(ctx, attemptID)

	view := &model.AttemptStatusView{
		ID:             attempt.ID,
		Status:         attempt.Status,
		DeadlineAt:     attempt.DeadlineAt,
		ViolationCount: count,
		Score:          attempt.Score,
	}
	if attempt.Status == model.AttemptStatusInProgress {
		view.RemainingSeconds = attempt.RemainingSeconds(s.clock())
	}
	return view, nil
}

// GetActiveAttempt resolves a student's open attempt for session resume,
// trying the cache first and falling back to the store with self-heal.
func (s *SessionService) GetActiveAttempt(ctx context.Context, studentID int) (*model.Attempt, error) {
	cacheKey := config.CacheKey.StudentActiveAttemptKey(studentID)
	if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
		if id, perr := uuid.Parse(cached); perr == nil {
			if attempt, gerr := s.attempts.GetByID(ctx, id); gerr == nil && attempt.Status == model.AttemptStatusInProgress {
				return attempt, nil
			}
		}
		s.rdb.Del(ctx, cacheKey)
	}

	attempt, err := s.attempts.GetInProgressByStudent(ctx, studentID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	ttl := attempt.DeadlineAt.Sub(s.clock()) + time.Hour
	if ttl > 0 {
		if err := s.rdb.Set(ctx, cacheKey, attempt.ID.String(), ttl).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to re-cache active attempt")
		}
	}
	return attempt, nil
}

// GetPaper returns the question set and the student's saved answers for
// an open attempt, supporting resume after a reconnect. Correct options
// and test cases never serialize, so the projection is safe to return.
func (s *SessionService) GetPaper(ctx context.Context, attemptID uuid.UUID, studentID int) ([]model.Question, []model.Answer, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, nil, err
	}
	if attempt.Status.Terminal() {
		return nil, nil, ErrInvalidStateTransition
	}

	questions, err := s.catalog.GetQuestions(ctx, attempt.TestID)
	if err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}
	answers, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("load answers: %w", err)
	}
	return questions, answers, nil
}

// GetRunnableQuestion validates that a trial run is allowed right now
// and returns the target coding question.
func (s *SessionService) GetRunnableQuestion(ctx context.Context, attemptID uuid.UUID, studentID int, questionID uuid.UUID) (*model.Question, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, ErrInvalidStateTransition
	}
	if s.clock().After(attempt.DeadlineAt) {
		return nil, ErrDeadlineExceeded
	}

	question, err := s.catalog.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	if question.TestID != attempt.TestID || question.Kind != model.QuestionKindCoding {
		return nil, ErrQuestionNotFound
	}
	return question, nil
}

// AdminOverride releases a closed attempt from the one-attempt block.
// The attempt record and its audit trail are retained; only the block
// is lifted. In-progress attempts cannot be overridden.
func (s *SessionService) AdminOverride(ctx context.Context, attemptID uuid.UUID) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return mapStoreErr(err)
	}
	if !attempt.Status.Terminal() {
		return ErrInvalidStateTransition
	}
	if err := s.attempts.Archive(ctx, attemptID); err != nil {
		return mapStoreErr(err)
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt archived by admin override")
	return nil
}

// RecoverDeadlines re-arms the deadline index from the attempts table.
// Run at boot and periodically; scheduling is idempotent so overlap with
// live entries is harmless.
func (s *SessionService) RecoverDeadlines(ctx context.Context) (int, error) {
	open, err := s.attempts.ListInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open attempts: %w", err)
	}
	recovered := 0
	for _, attempt := range open {
		if err := s.timer.Schedule(ctx, attempt.ID, attempt.DeadlineAt); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to re-arm deadline")
			continue
		}
		recovered++
	}
	return recovered, nil
}

// close grades the attempt and applies the single closing transition.
// Returns the settled attempt and whether this caller won the CAS; a
// loser gets the current row so idempotent callers can return it.
func (s *SessionService) close(ctx context.Context, attempt *model.Attempt, status model.AttemptStatus, reason string) (*model.Attempt, bool, error) {
	questions, err := s.catalog.GetQuestions(ctx, attempt.TestID)
	if err != nil {
		return nil, false, fmt.Errorf("load questions: %w", err)
	}
	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, false, fmt.Errorf("load answers: %w", err)
	}
	score, awards, err := s.scorer.ScoreAttempt(ctx, questions, answers)
	if err != nil {
		return nil, false, fmt.Errorf("score attempt: %w", err)
	}

	closedAt := s.clock()
	var won bool
	err = withRetry(ctx, func() error {
		var cerr error
		won, cerr = s.attempts.Close(ctx, attempt.ID, status, score, reason, closedAt)
		return cerr
	})
	if err != nil {
		// The attempt stays open; the deadline sweep will retry the
		// transition on its next pass.
		return nil, false, fmt.Errorf("%w: close attempt: %v", ErrPersistence, err)
	}

	if !won {
		current, gerr := s.attempts.GetByID(ctx, attempt.ID)
		if gerr != nil {
			return nil, false, mapStoreErr(gerr)
		}
		return current, false, nil
	}

	if err := withRetry(ctx, func() error { return s.answers.SetAwards(ctx, attempt.ID, awards) }); err != nil {
		// The total on the attempt row is authoritative; missing
		// per-question detail is logged, not fatal.
		s.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to persist awards")
	}
	if err := s.timer.Cancel(ctx, attempt.ID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cancel deadline")
	}
	s.rdb.Del(ctx,
		config.CacheKey.StudentActiveAttemptKey(attempt.StudentID),
		config.CacheKey.AttemptViolationCountKey(attempt.ID.String()),
	)

	attempt.Status = status
	attempt.Score = &score
	attempt.SubmittedAt = &closedAt
	attempt.CloseReason = reason

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("status", string(status)).
		Str("reason", reason).
		Int("score", score).
		Msg("Attempt closed")
	return attempt, true, nil
}

// violationCount reads the cached running total, falling back to the
// store and re-seeding the cache on a miss.
func (s *SessionService) violationCount(ctx context.Context, attemptID uuid.UUID) int {
	key := config.CacheKey.AttemptViolationCountKey(attemptID.String())
	if n, err := s.rdb.Get(ctx, key).Int(); err == nil {
		return n
	}

	n, err := s.violations.CountAll(ctx, attemptID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to count violations")
		return 0
	}
	if n > 0 {
		if err := s.rdb.Set(ctx, key, n, time.Hour).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to re-seed violation count cache")
		}
	}
	return n
}

func (s *SessionService) getOwnedAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	// Ownership is hidden as not-found, so attempt IDs cannot be probed.
	if studentID != 0 && attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAttemptNotFound
	}
	return err
}

// withRetry retries transient persistence failures with doubling backoff.
func withRetry(ctx context.Context, fn func() error) error {
	backoff := persistBackoff
	var err error
	for try := 0; try < persistRetries; try++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return err
		}
	}
	return err
}
