package repository

import (
	"context"
	"fmt"

	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ViolationRepository handles the append-only violation audit trail.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Append records a violation event. Events are never updated or deleted,
// and are retained after the owning attempt reaches a terminal state.
func (r *ViolationRepository) Append(ctx context.Context, ev *model.ViolationEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO violation_events (id, attempt_id, kind, recorded_at, recorded_after_terminal)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.AttemptID, ev.Kind, ev.RecordedAt, ev.RecordedAfterTerminal,
	)
	if err != nil {
		return fmt.Errorf("append violation: %w", err)
	}
	return nil
}

// CountByKind returns how many pre-terminal events of one kind exist for
// an attempt. Post-terminal events are excluded so late-arriving signals
// cannot affect policy decisions retroactively.
func (r *ViolationRepository) CountByKind(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM violation_events
		 WHERE attempt_id = $1 AND kind = $2 AND NOT recorded_after_terminal`,
		attemptID, kind,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations by kind: %w", err)
	}
	return n, nil
}

// CountAll returns the total number of events recorded for an attempt.
func (r *ViolationRepository) CountAll(ctx context.Context, attemptID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM violation_events WHERE attempt_id = $1`, attemptID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// ListByAttempt retrieves the full audit trail for an attempt in receipt order.
func (r *ViolationRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.ViolationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, kind, recorded_at, recorded_after_terminal
		 FROM violation_events
		 WHERE attempt_id = $1
		 ORDER BY recorded_at ASC`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var events []model.ViolationEvent
	for rows.Next() {
		var ev model.ViolationEvent
		if err := rows.Scan(&ev.ID, &ev.AttemptID, &ev.Kind, &ev.RecordedAt, &ev.RecordedAfterTerminal); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
