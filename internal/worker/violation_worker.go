package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	PollTimeout = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// violationPayload is the queue message produced by the WebSocket
// proctoring channel and drained here.
type violationPayload struct {
	AttemptID string `json:"attempt_id"`
	Kind      string `json:"kind"`
}

// ViolationWorker drains queued proctoring events into the integrity
// policy. Events that fail on persistence are requeued; malformed
// messages are discarded. Policy outcomes are published for any proctor
// dashboards watching the attempt.
type ViolationWorker struct {
	integrity *service.IntegrityService
	rdb       *redis.Client
	log       zerolog.Logger
}

func NewViolationWorker(integrity *service.IntegrityService, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		integrity: integrity,
		rdb:       rdb,
		log:       log.With().Str("component", "violation_worker").Logger(),
	}
}

// EnqueueViolation pushes one proctoring event onto the ingest queue.
// Producers (the WebSocket handler) stay fire-and-forget; ordering per
// attempt is the queue order.
func EnqueueViolation(ctx context.Context, rdb *redis.Client, attemptID uuid.UUID, kind string) error {
	data, err := json.Marshal(violationPayload{AttemptID: attemptID.String(), Kind: kind})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, config.WorkerKey.ViolationQueue, data).Err()
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ViolationWorker stopping")
			return
		default:
			// Continue
		}

		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.ViolationQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Timeout (queue empty)
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload violationPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		w.process(ctx, &payload, result[1])
	}
}

func (w *ViolationWorker) process(ctx context.Context, payload *violationPayload, raw string) {
	attemptID, err := uuid.Parse(payload.AttemptID)
	if err != nil {
		w.log.Error().Str("attempt_id", payload.AttemptID).Msg("Dropping violation with invalid attempt id")
		return
	}

	ack, err := w.integrity.Report(ctx, attemptID, model.ViolationKind(payload.Kind))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownViolation),
			errors.Is(err, service.ErrAttemptNotFound):
			// Data errors are final; retrying cannot fix them.
			w.log.Warn().Err(err).Str("attempt_id", payload.AttemptID).Msg("Dropping unprocessable violation")
		default:
			w.requeue(ctx, raw)
		}
		return
	}

	w.publish(ctx, attemptID, payload.Kind, ack)
}

func (w *ViolationWorker) requeue(ctx context.Context, raw string) {
	if err := w.rdb.RPush(ctx, config.WorkerKey.ViolationQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue violation. Data loss occurred.")
		return
	}
	// Sleep a bit to avoid thrashing if the DB is down hard
	time.Sleep(2 * time.Second)
}

// publish mirrors the policy outcome onto the proctor event channel.
func (w *ViolationWorker) publish(ctx context.Context, attemptID uuid.UUID, kind string, ack *service.ViolationAck) {
	event := map[string]any{
		"attempt_id": attemptID.String(),
		"kind":       kind,
		"count":      ack.Count,
		"warn":       ack.Warn,
		"terminated": ack.Terminated,
	}
	data, _ := json.Marshal(event)
	if err := w.rdb.Publish(ctx, config.WorkerKey.ProctorChannel, data).Err(); err != nil {
		w.log.Warn().Err(err).Msg("Failed to publish proctor event")
	}
}
