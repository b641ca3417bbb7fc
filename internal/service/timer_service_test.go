package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestTimerScheduleAndDue(t *testing.T) {
	svc := NewTimerService(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	now := time.Now()
	early := uuid.New()
	late := uuid.New()

	if err := svc.Schedule(ctx, early, now.Add(-time.Minute)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := svc.Schedule(ctx, late, now.Add(time.Hour)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	due, err := svc.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 1 || due[0] != early {
		t.Fatalf("due = %v, want [%s]", due, early)
	}
}

func TestTimerScheduleNeverMovesDeadline(t *testing.T) {
	svc := NewTimerService(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	id := uuid.New()
	original := time.Now().Add(-time.Minute)

	if err := svc.Schedule(ctx, id, original); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	// A re-arm pass must not push the deadline into the future.
	if err := svc.Schedule(ctx, id, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("re-Schedule() error = %v", err)
	}

	due, err := svc.Due(ctx, time.Now())
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 1 || due[0] != id {
		t.Fatalf("due = %v, want original deadline preserved", due)
	}
}

func TestTimerCancelRemovesEntry(t *testing.T) {
	svc := NewTimerService(testRedis(t), zerolog.Nop())
	ctx := context.Background()

	id := uuid.New()
	if err := svc.Schedule(ctx, id, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := svc.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	due, err := svc.Due(ctx, time.Now())
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %v, want empty after cancel", due)
	}
}

func TestTimerDueDropsMalformedMembers(t *testing.T) {
	rdb := testRedis(t)
	svc := NewTimerService(rdb, zerolog.Nop())
	ctx := context.Background()

	id := uuid.New()
	svc.Schedule(ctx, id, time.Now().Add(-time.Minute))
	rdb.ZAdd(ctx, "attempt:deadlines", redis.Z{Score: 0, Member: "not-a-uuid"})

	due, err := svc.Due(ctx, time.Now())
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 1 || due[0] != id {
		t.Fatalf("due = %v, want only the valid member", due)
	}
}
