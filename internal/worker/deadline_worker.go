package worker

import (
	"context"
	"time"

	"github.com/codexam/codexam-backend/internal/service"
	"github.com/rs/zerolog"
)

const recoverEvery = 60 * time.Second

// DeadlineWorker sweeps the deadline index and auto-submits attempts
// whose deadline plus grace has passed. The sweep tolerates duplicate
// fires: expiry is idempotent and the index entry is only removed after
// the attempt settles. A slower recovery tick re-arms the index from
// the attempts table so a lost Redis entry only delays expiry, never
// skips it.
type DeadlineWorker struct {
	sessions *service.SessionService
	timer    *service.TimerService
	grace    time.Duration
	every    time.Duration
	log      zerolog.Logger
}

func NewDeadlineWorker(sessions *service.SessionService, timer *service.TimerService, grace, every time.Duration, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		sessions: sessions,
		timer:    timer,
		grace:    grace,
		every:    every,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("sweep_every", w.every).Dur("grace", w.grace).Msg("DeadlineWorker started")

	// Re-arm before the first sweep so attempts opened by a previous
	// process are covered immediately.
	w.recover(ctx)

	sweep := time.NewTicker(w.every)
	defer sweep.Stop()
	rearm := time.NewTicker(recoverEvery)
	defer rearm.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopping")
			return
		case <-sweep.C:
			w.sweep(ctx)
		case <-rearm.C:
			w.recover(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.grace)
	due, err := w.timer.Due(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("Deadline sweep failed")
		return
	}

	for _, attemptID := range due {
		if err := w.sessions.AutoExpire(ctx, attemptID); err != nil {
			// Left in the index; the next sweep retries.
			w.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Auto-expiry failed")
		}
	}
}

func (w *DeadlineWorker) recover(ctx context.Context) {
	n, err := w.sessions.RecoverDeadlines(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Deadline recovery failed")
		return
	}
	if n > 0 {
		w.log.Debug().Int("attempts", n).Msg("Deadline index re-armed")
	}
}
