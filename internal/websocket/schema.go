package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionReportViolation Action = "report_violation"
	ActionStatus          Action = "status"
	ActionPing            Action = "ping"
)

// RequestPayload is the single client message shape. Kind is only set
// for report_violation.
type RequestPayload struct {
	Action Action `json:"action"`
	Kind   string `json:"kind,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventQueued Event = "queued"
	EventPong   Event = "pong"
	EventStatus Event = "status"
)

// QueuedResponse acknowledges a violation report accepted for ingest.
type QueuedResponse struct {
	Event Event  `json:"event"`
	Kind  string `json:"kind"`
}

// StatusResponse is the periodic countdown push.
type StatusResponse struct {
	Event            Event  `json:"event"`
	Status           string `json:"status"`
	RemainingSeconds int    `json:"remaining_seconds"`
	ViolationCount   int    `json:"violation_count"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
