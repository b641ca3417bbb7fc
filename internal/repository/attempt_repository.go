package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptResult combines student data with attempt details for admin review.
type AttemptResult struct {
	AttemptID   uuid.UUID           `json:"attempt_id"`
	StudentID   int                 `json:"student_id"`
	StudentName string              `json:"student_name"`
	Status      model.AttemptStatus `json:"status"`
	Score       *int                `json:"score"`
	StartedAt   time.Time           `json:"started_at"`
	SubmittedAt *time.Time          `json:"submitted_at"`
	CloseReason string              `json:"close_reason,omitempty"`
}

// AttemptRepository handles attempt persistence.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt. The partial unique index on
// (test_id, student_id) WHERE NOT archived enforces the one-attempt
// invariant in the database itself; a conflicting insert returns
// ErrDuplicate so a concurrent double-start can only have one winner.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, test_id, student_id, status, started_at, deadline_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (test_id, student_id) WHERE NOT archived DO NOTHING
		 RETURNING id`,
		a.ID, a.TestID, a.StudentID, a.Status, a.StartedAt, a.DeadlineAt,
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, student_id, status, started_at, deadline_at, submitted_at, score, close_reason, archived
		 FROM attempts
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.StartedAt, &a.DeadlineAt, &a.SubmittedAt, &a.Score, &a.CloseReason, &a.Archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// GetInProgressByStudent returns the student's single in-progress attempt,
// or ErrNotFound when none exists.
func (r *AttemptRepository) GetInProgressByStudent(ctx context.Context, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, student_id, status, started_at, deadline_at, submitted_at, score, close_reason, archived
		 FROM attempts
		 WHERE student_id = $1 AND status = $2
		 ORDER BY started_at DESC
		 LIMIT 1`, studentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.StartedAt, &a.DeadlineAt, &a.SubmittedAt, &a.Score, &a.CloseReason, &a.Archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get in-progress attempt: %w", err)
	}
	return a, nil
}

// Close atomically transitions an in-progress attempt into a terminal
// state, persisting status, score and submitted_at in one statement.
// The status guard in the WHERE clause is the single-writer discipline:
// exactly one of finalize/auto-expire/terminate can win; losers get
// false and must re-read the attempt.
func (r *AttemptRepository) Close(ctx context.Context, id uuid.UUID, status model.AttemptStatus, score int, reason string, closedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, score = $3, close_reason = $4, submitted_at = $5
		 WHERE id = $1 AND status = $6`,
		id, status, score, reason, closedAt, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("close attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListInProgress returns every open attempt, used to re-arm deadlines
// after a process restart.
func (r *AttemptRepository) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, student_id, status, started_at, deadline_at, submitted_at, score, close_reason, archived
		 FROM attempts
		 WHERE status = $1`, model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("list in-progress attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.StartedAt, &a.DeadlineAt, &a.SubmittedAt, &a.Score, &a.CloseReason, &a.Archived); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Archive releases a terminal attempt from the one-attempt block so the
// student may start the test again. The record itself is retained.
func (r *AttemptRepository) Archive(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET archived = TRUE
		 WHERE id = $1 AND status <> $2`,
		id, model.AttemptStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("archive attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTest retrieves all student results for a test, paginated.
func (r *AttemptRepository) ListByTest(ctx context.Context, testID uuid.UUID, page, perPage int) ([]AttemptResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id = $1`, testID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count attempts: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, s.name, a.status, a.score, a.started_at, a.submitted_at, a.close_reason
		 FROM attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.test_id = $1
		 ORDER BY s.name ASC, a.started_at DESC
		 LIMIT $2 OFFSET $3`, testID, perPage, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts by test: %w", err)
	}
	defer rows.Close()

	var results []AttemptResult
	for rows.Next() {
		var res AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.StudentName, &res.Status, &res.Score, &res.StartedAt, &res.SubmittedAt, &res.CloseReason); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
