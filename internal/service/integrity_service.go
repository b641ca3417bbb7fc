package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnknownViolation is returned for violation kinds outside the policy
// table. Unknown kinds are rejected, never silently recorded.
var ErrUnknownViolation = errors.New("unknown violation kind")

// ViolationThreshold configures one violation kind. A zero WarnAt never
// warns; a zero TerminateAt never terminates.
type ViolationThreshold struct {
	WarnAt      int
	TerminateAt int
}

// IntegrityPolicy maps each violation kind to its thresholds.
type IntegrityPolicy map[model.ViolationKind]ViolationThreshold

// PolicyFromConfig builds the policy table from environment-driven config.
func PolicyFromConfig(cfg *config.Config) IntegrityPolicy {
	return IntegrityPolicy{
		model.ViolationTabSwitch:       {WarnAt: cfg.TabSwitchWarnAt, TerminateAt: cfg.TabSwitchTerminateAt},
		model.ViolationFocusLoss:       {WarnAt: cfg.FocusLossWarnAt, TerminateAt: cfg.FocusLossTerminateAt},
		model.ViolationScreenShareStop: {TerminateAt: cfg.ScreenShareStopTermAt},
		model.ViolationMultiFace:       {WarnAt: cfg.MultiFaceWarnAt, TerminateAt: cfg.MultiFaceTerminateAt},
	}
}

// AttemptTerminator is the slice of the session manager the integrity
// monitor needs when a threshold is crossed.
type AttemptTerminator interface {
	Terminate(ctx context.Context, attemptID uuid.UUID, reason string) (*model.Attempt, error)
}

// ViolationAck tells the reporting client what the event did.
type ViolationAck struct {
	Recorded      bool `json:"recorded"`
	AfterTerminal bool `json:"after_terminal"`
	Count         int  `json:"count"`
	Warn          bool `json:"warn"`
	Terminated    bool `json:"terminated"`
}

// IntegrityService applies the violation policy table. Every event is
// appended to the audit trail first, even when it arrives after the
// attempt is already terminal; only then are thresholds evaluated.
type IntegrityService struct {
	attempts   AttemptStore
	violations ViolationStore
	terminator AttemptTerminator
	rdb        *redis.Client
	policy     IntegrityPolicy
	clock      func() time.Time
	log        zerolog.Logger
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(
	attempts AttemptStore,
	violations ViolationStore,
	terminator AttemptTerminator,
	rdb *redis.Client,
	policy IntegrityPolicy,
	log zerolog.Logger,
) *IntegrityService {
	return &IntegrityService{
		attempts:   attempts,
		violations: violations,
		terminator: terminator,
		rdb:        rdb,
		policy:     policy,
		clock:      time.Now,
		log:        log.With().Str("component", "integrity_service").Logger(),
	}
}

// Report records one proctoring signal and applies the policy table.
// The receipt timestamp is stamped here, never taken from the client.
func (s *IntegrityService) Report(ctx context.Context, attemptID uuid.UUID, kind model.ViolationKind) (*ViolationAck, error) {
	if !model.KnownViolationKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownViolation, kind)
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	ev := &model.ViolationEvent{
		ID:                    uuid.New(),
		AttemptID:             attemptID,
		Kind:                  kind,
		RecordedAt:            s.clock(),
		RecordedAfterTerminal: attempt.Status.Terminal(),
	}
	if err := withRetry(ctx, func() error { return s.violations.Append(ctx, ev) }); err != nil {
		return nil, fmt.Errorf("%w: append violation: %v", ErrPersistence, err)
	}

	// Late events are audit-only: recorded, counted toward nothing.
	if ev.RecordedAfterTerminal {
		s.log.Info().
			Str("attempt_id", attemptID.String()).
			Str("kind", string(kind)).
			Msg("Violation recorded after attempt close")
		return &ViolationAck{Recorded: true, AfterTerminal: true}, nil
	}

	if err := s.rdb.Incr(ctx, config.CacheKey.AttemptViolationCountKey(attemptID.String())).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to bump cached violation count")
	}

	count, err := s.violations.CountByKind(ctx, attemptID, kind)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	ack := &ViolationAck{Recorded: true, Count: count}
	th := s.policy[kind]

	if th.TerminateAt > 0 && count >= th.TerminateAt {
		ack.Terminated = true
		reason := "violation_policy:" + string(kind)
		if _, err := s.terminator.Terminate(ctx, attemptID, reason); err != nil {
			// A concurrent close already won; the event stays on record.
			if !errors.Is(err, ErrInvalidStateTransition) {
				return nil, fmt.Errorf("terminate attempt: %w", err)
			}
			ack.Terminated = false
		}
		return ack, nil
	}

	if th.WarnAt > 0 && count >= th.WarnAt {
		ack.Warn = true
	}
	return ack, nil
}

// Violations returns the full audit trail for an attempt.
func (s *IntegrityService) Violations(ctx context.Context, attemptID uuid.UUID) ([]model.ViolationEvent, error) {
	if _, err := s.attempts.GetByID(ctx, attemptID); err != nil {
		return nil, mapStoreErr(err)
	}
	events, err := s.violations.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	return events, nil
}
