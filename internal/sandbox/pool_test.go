package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// blockingRunner parks every job until released, or until its context is
// cancelled, in which case it reports StatusTerminated like the real
// executor does.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Execute(ctx context.Context, _ Job) (Result, error) {
	r.started <- struct{}{}
	select {
	case <-r.release:
		return Result{Status: StatusPassed}, nil
	case <-ctx.Done():
		return Result{Status: StatusTerminated}, nil
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, 2, zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Execute(ctx, Job{AttemptID: uuid.New()})
		}()
	}
	// Wait for both slots to be held.
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(time.Second):
			t.Fatal("runner did not start in time")
		}
	}

	if _, err := pool.Execute(ctx, Job{AttemptID: uuid.New()}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Execute() on full pool error = %v, want ErrBusy", err)
	}

	close(runner.release)
	wg.Wait()

	// Slots free again after completion.
	if _, err := pool.Execute(ctx, Job{AttemptID: uuid.New()}); err != nil {
		t.Fatalf("Execute() after drain error = %v", err)
	}
}

func TestPoolKillAttemptCancelsInFlightJobs(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, 4, zerolog.Nop())
	ctx := context.Background()

	target := uuid.New()
	other := uuid.New()

	results := make(chan Result, 2)
	for _, id := range []uuid.UUID{target, target} {
		id := id
		go func() {
			res, _ := pool.Execute(ctx, Job{AttemptID: id})
			results <- res
		}()
	}
	otherDone := make(chan Result, 1)
	go func() {
		res, _ := pool.Execute(ctx, Job{AttemptID: other})
		otherDone <- res
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-runner.started:
		case <-time.After(time.Second):
			t.Fatal("runner did not start in time")
		}
	}

	if n := pool.KillAttempt(target); n != 2 {
		t.Fatalf("KillAttempt() = %d, want 2", n)
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.Status != StatusTerminated {
				t.Errorf("killed job status = %s, want TERMINATED", res.Status)
			}
		case <-time.After(time.Second):
			t.Fatal("killed job did not return")
		}
	}

	// The unrelated attempt keeps running and finishes normally.
	close(runner.release)
	select {
	case res := <-otherDone:
		if res.Status != StatusPassed {
			t.Errorf("unrelated job status = %s, want PASSED", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("unrelated job did not return")
	}
}

func TestPoolKillAttemptWithNothingInFlight(t *testing.T) {
	pool := NewPool(newBlockingRunner(), 1, zerolog.Nop())
	if n := pool.KillAttempt(uuid.New()); n != 0 {
		t.Fatalf("KillAttempt() = %d, want 0", n)
	}
}
