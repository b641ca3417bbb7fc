package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationKind enumerates proctoring signals the engine understands.
type ViolationKind string

const (
	ViolationTabSwitch       ViolationKind = "tab_switch"
	ViolationFocusLoss       ViolationKind = "focus_loss"
	ViolationScreenShareStop ViolationKind = "screen_share_stop"
	ViolationMultiFace       ViolationKind = "multi_face"
)

// KnownViolationKind reports whether k is one of the supported kinds.
func KnownViolationKind(k ViolationKind) bool {
	switch k {
	case ViolationTabSwitch, ViolationFocusLoss, ViolationScreenShareStop, ViolationMultiFace:
		return true
	}
	return false
}

// ViolationEvent is an append-only audit record of one proctoring signal.
// RecordedAt is stamped at receipt on the server, never taken from the
// client, so delayed delivery cannot reorder the audit trail.
// Events are retained even after the owning attempt is terminal.
type ViolationEvent struct {
	ID                    uuid.UUID     `json:"id"`
	AttemptID             uuid.UUID     `json:"attempt_id"`
	Kind                  ViolationKind `json:"kind"`
	RecordedAt            time.Time     `json:"recorded_at"`
	RecordedAfterTerminal bool          `json:"recorded_after_terminal"`
}

// ReportViolationRequest is the payload for reporting a proctoring signal.
type ReportViolationRequest struct {
	Kind string `json:"kind" binding:"required,oneof=tab_switch focus_loss screen_share_stop multi_face"`
}
