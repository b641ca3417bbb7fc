package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository handles answer persistence.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert writes an answer, overwriting any prior response for the same
// question (last-write-wins while the attempt is in progress).
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.Answer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answers (attempt_id, question_id, option_id, source_code, language, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET option_id = EXCLUDED.option_id,
		     source_code = EXCLUDED.source_code,
		     language = EXCLUDED.language,
		     updated_at = NOW()`,
		a.AttemptID, a.QuestionID, a.OptionID, a.SourceCode, a.Language,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// ListByAttempt retrieves all answers recorded for an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, option_id, source_code, language, execution_log, awarded_points, updated_at
		 FROM answers
		 WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.OptionID, &a.SourceCode, &a.Language, &a.ExecutionLog, &a.AwardedPoints, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Award holds the grading outcome for one answered question.
type Award struct {
	QuestionID   uuid.UUID
	Points       int
	ExecutionLog json.RawMessage
}

// SetAwards bulk-writes awarded points and execution logs for an attempt
// in one UNNEST update. Awards are written once, at finalization; the
// statement is idempotent per attempt so closing-transition retries are
// safe.
func (r *AnswerRepository) SetAwards(ctx context.Context, attemptID uuid.UUID, awards []Award) error {
	if len(awards) == 0 {
		return nil
	}

	questionIDs := make([]uuid.UUID, 0, len(awards))
	points := make([]int, 0, len(awards))
	logs := make([][]byte, 0, len(awards))
	for _, aw := range awards {
		questionIDs = append(questionIDs, aw.QuestionID)
		points = append(points, aw.Points)
		if aw.ExecutionLog == nil {
			logs = append(logs, []byte("null"))
		} else {
			logs = append(logs, aw.ExecutionLog)
		}
	}

	query := `
		UPDATE answers AS a
		SET awarded_points = t.points,
		    execution_log = t.execution_log
		FROM (
			SELECT u.question_id, u.points, u.execution_log
			FROM UNNEST(
				$2::uuid[],
				$3::int[],
				$4::jsonb[]
			) AS u (question_id, points, execution_log)
		) AS t
		WHERE a.attempt_id = $1
		  AND a.question_id = t.question_id
	`

	_, err := r.pool.Exec(ctx, query, attemptID, questionIDs, points, logs)
	if err != nil {
		return fmt.Errorf("set awards: %w", err)
	}
	return nil
}
