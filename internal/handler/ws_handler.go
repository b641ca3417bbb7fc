package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/middleware"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/service"
	"github.com/codexam/codexam-backend/internal/worker"
	ws "github.com/codexam/codexam-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the proctoring WebSocket surfaces.
type WSHandler struct {
	rdb      *redis.Client
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Real-time channel for proctoring signals and countdown polling.
// Violations are queued for ingest, so a slow policy check never blocks
// the exam client.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Ownership and liveness before streaming.
	view, err := h.sessions.GetStatus(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil || view.Status != model.AttemptStatusInProgress {
		c.JSON(http.StatusConflict, gin.H{"error": "no open attempt"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.StudentID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionReportViolation:
			h.handleReport(c, conn, wsLog, attemptID, &msg)
		case ws.ActionStatus:
			h.handleStatus(c, conn, wsLog, attemptID, claims.StudentID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleReport(c *gin.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, msg *ws.RequestPayload) {
	if !model.KnownViolationKind(model.ViolationKind(msg.Kind)) {
		ws.WriteError(conn, "unknown violation kind")
		return
	}

	if err := worker.EnqueueViolation(c.Request.Context(), h.rdb, attemptID, msg.Kind); err != nil {
		wsLog.Error().Err(err).Msg("Failed to enqueue violation")
		ws.WriteError(conn, "report failed")
		return
	}
	ws.WriteTyped(conn, ws.QueuedResponse{Event: ws.EventQueued, Kind: msg.Kind})
}

func (h *WSHandler) handleStatus(c *gin.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	view, err := h.sessions.GetStatus(c.Request.Context(), attemptID, studentID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Status lookup failed")
		ws.WriteError(conn, "status unavailable")
		return
	}
	ws.WriteTyped(conn, ws.StatusResponse{
		Event:            ws.EventStatus,
		Status:           string(view.Status),
		RemainingSeconds: view.RemainingSeconds,
		ViolationCount:   view.ViolationCount,
	})
}

// ProctorStream godoc
// WS /ws/v1/admin/proctor
// Streams policy outcomes for all live attempts to proctor dashboards.
func (h *WSHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.Role != service.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Info().Msg("Proctor connected")

	pubsub := h.rdb.Subscribe(c.Request.Context(), config.WorkerKey.ProctorChannel)
	defer pubsub.Close()

	// Reader goroutine only detects the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-done:
			h.log.Debug().Msg("Proctor disconnected")
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m.Payload)); err != nil {
				h.log.Debug().Err(err).Msg("Proctor write failed")
				return
			}
		}
	}
}
