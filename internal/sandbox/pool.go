package sandbox

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pool bounds concurrent sandbox executions. A job either acquires a slot
// immediately or fails with ErrBusy; there is no queue to back up under
// load. In-flight jobs are tracked per attempt so a terminated attempt's
// executions can be killed best-effort.
type Pool struct {
	runner Runner
	slots  chan struct{}
	log    zerolog.Logger

	mu       sync.Mutex
	nextID   uint64
	inflight map[uuid.UUID]map[uint64]context.CancelFunc
}

// NewPool wraps runner with a pool of size slots.
func NewPool(runner Runner, size int, log zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		runner:   runner,
		slots:    make(chan struct{}, size),
		log:      log.With().Str("component", "sandbox_pool").Logger(),
		inflight: make(map[uuid.UUID]map[uint64]context.CancelFunc),
	}
}

// Execute runs one job if a slot is free, ErrBusy otherwise.
func (p *Pool) Execute(ctx context.Context, job Job) (Result, error) {
	select {
	case p.slots <- struct{}{}:
	default:
		return Result{}, ErrBusy
	}
	defer func() { <-p.slots }()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := p.track(job.AttemptID, cancel)
	defer p.untrack(job.AttemptID, id)

	return p.runner.Execute(jobCtx, job)
}

// KillAttempt cancels every in-flight job belonging to an attempt and
// returns how many were signalled. Cancellation is asynchronous: the
// killed jobs report StatusTerminated to their own callers.
func (p *Pool) KillAttempt(attemptID uuid.UUID) int {
	p.mu.Lock()
	jobs := p.inflight[attemptID]
	cancels := make([]context.CancelFunc, 0, len(jobs))
	for _, c := range jobs {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		p.log.Info().
			Str("attempt_id", attemptID.String()).
			Int("jobs", len(cancels)).
			Msg("Killed in-flight sandbox jobs")
	}
	return len(cancels)
}

func (p *Pool) track(attemptID uuid.UUID, cancel context.CancelFunc) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	if p.inflight[attemptID] == nil {
		p.inflight[attemptID] = make(map[uint64]context.CancelFunc)
	}
	p.inflight[attemptID][id] = cancel
	return id
}

func (p *Pool) untrack(attemptID uuid.UUID, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight[attemptID], id)
	if len(p.inflight[attemptID]) == 0 {
		delete(p.inflight, attemptID)
	}
}
