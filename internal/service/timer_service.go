package service

import (
	"context"
	"fmt"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TimerService keeps one absolute deadline per open attempt in a Redis
// sorted set (member: attempt ID, score: unix deadline). Deadlines are
// keyed by wall-clock time, never by elapsed counters, so the sweep
// stays correct across process restarts: on boot the session manager
// re-arms the index from the attempts table.
type TimerService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewTimerService creates a new TimerService.
func NewTimerService(rdb *redis.Client, log zerolog.Logger) *TimerService {
	return &TimerService{
		rdb: rdb,
		log: log.With().Str("component", "timer_service").Logger(),
	}
}

// Schedule registers a deadline. ZAddNX makes re-arming idempotent: a
// deadline is fixed at attempt creation and is never moved.
func (s *TimerService) Schedule(ctx context.Context, attemptID uuid.UUID, deadline time.Time) error {
	err := s.rdb.ZAddNX(ctx, config.CacheKey.AttemptDeadlineIndex(), redis.Z{
		Score:  float64(deadline.Unix()),
		Member: attemptID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule deadline: %w", err)
	}
	return nil
}

// Cancel drops a deadline after manual finalize or termination. Best
// effort: a stale fire is a safe no-op through auto-expiry idempotence.
func (s *TimerService) Cancel(ctx context.Context, attemptID uuid.UUID) error {
	err := s.rdb.ZRem(ctx, config.CacheKey.AttemptDeadlineIndex(), attemptID.String()).Err()
	if err != nil {
		return fmt.Errorf("cancel deadline: %w", err)
	}
	return nil
}

// Due returns every attempt whose deadline is at or before cutoff.
// Members stay in the index until Cancel, so delivery is at-least-once.
func (s *TimerService) Due(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	members, err := s.rdb.ZRangeByScore(ctx, config.CacheKey.AttemptDeadlineIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch due deadlines: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// Malformed member cannot ever fire; drop it from the index.
			s.log.Error().Str("member", m).Msg("Dropping malformed deadline member")
			s.rdb.ZRem(ctx, config.CacheKey.AttemptDeadlineIndex(), m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
