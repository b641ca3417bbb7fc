package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository reads test and question definitions. The engine
// treats the catalog as read-only; CRUD lives in the upstream LMS.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetTest retrieves a single test definition.
func (r *CatalogRepository) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, title, kind, question_mix, duration_minutes, is_active
		 FROM tests
		 WHERE id = $1`, id,
	).Scan(&t.ID, &t.CourseID, &t.Title, &t.Kind, &t.QuestionMix, &t.DurationMinutes, &t.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// GetQuestion retrieves a single question with its test cases.
func (r *CatalogRepository) GetQuestion(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, kind, prompt, options, correct_option, points, order_num
		 FROM questions
		 WHERE id = $1`, id,
	).Scan(&q.ID, &q.TestID, &q.Kind, &q.Prompt, &q.Options, &q.CorrectOption, &q.Points, &q.OrderNum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	if q.Kind == model.QuestionKindCoding {
		cases, err := r.listTestCases(ctx, []uuid.UUID{q.ID})
		if err != nil {
			return nil, err
		}
		q.TestCases = cases[q.ID]
	}
	return q, nil
}

// GetQuestions retrieves all questions of a test, test cases included.
func (r *CatalogRepository) GetQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, kind, prompt, options, correct_option, points, order_num
		 FROM questions
		 WHERE test_id = $1
		 ORDER BY order_num ASC`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	var codingIDs []uuid.UUID
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.TestID, &q.Kind, &q.Prompt, &q.Options, &q.CorrectOption, &q.Points, &q.OrderNum); err != nil {
			return nil, err
		}
		if q.Kind == model.QuestionKindCoding {
			codingIDs = append(codingIDs, q.ID)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(codingIDs) > 0 {
		cases, err := r.listTestCases(ctx, codingIDs)
		if err != nil {
			return nil, err
		}
		for i := range questions {
			questions[i].TestCases = cases[questions[i].ID]
		}
	}

	return questions, nil
}

func (r *CatalogRepository) listTestCases(ctx context.Context, questionIDs []uuid.UUID) (map[uuid.UUID][]model.TestCase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, input, expected, hidden, order_num
		 FROM test_cases
		 WHERE question_id = ANY($1)
		 ORDER BY order_num ASC`, questionIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	cases := make(map[uuid.UUID][]model.TestCase)
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.QuestionID, &tc.Input, &tc.Expected, &tc.Hidden, &tc.OrderNum); err != nil {
			return nil, err
		}
		cases[tc.QuestionID] = append(cases[tc.QuestionID], tc)
	}
	return cases, rows.Err()
}
