package handler

import (
	"errors"
	"net/http"

	"github.com/codexam/codexam-backend/internal/middleware"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/codexam/codexam-backend/internal/response"
	"github.com/codexam/codexam-backend/internal/sandbox"
	"github.com/codexam/codexam-backend/internal/service"
	"github.com/codexam/codexam-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AttemptHandler handles the student-facing attempt lifecycle endpoints.
type AttemptHandler struct {
	sessions  *service.SessionService
	scoring   *service.ScoringService
	integrity *service.IntegrityService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	sessions *service.SessionService,
	scoring *service.ScoringService,
	integrity *service.IntegrityService,
) *AttemptHandler {
	return &AttemptHandler{
		sessions:  sessions,
		scoring:   scoring,
		integrity: integrity,
	}
}

// StartAttempt godoc
// POST /api/v1/attempts
// Opens an attempt on an active test. One attempt per (test, student).
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	testID, err := uuid.Parse(req.TestID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.sessions.Start(c.Request.Context(), testID, claims.StudentID)
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetActiveAttempt godoc
// GET /api/v1/attempts/active
// Resolves the caller's open attempt for session resume.
func (h *AttemptHandler) GetActiveAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempt, err := h.sessions.GetActiveAttempt(c.Request.Context(), claims.StudentID)
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetAttemptStatus godoc
// GET /api/v1/attempts/:attempt_id/status
// Returns status, remaining time against the server clock and the
// violation count.
func (h *AttemptHandler) GetAttemptStatus(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	view, err := h.sessions.GetStatus(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": view})
}

// GetAttemptPaper godoc
// GET /api/v1/attempts/:attempt_id/paper
// Returns the question set and saved answers for an open attempt.
func (h *AttemptHandler) GetAttemptPaper(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	questions, answers, err := h.sessions.GetPaper(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil {
		failFromService(c, err)
		return
	}
	if answers == nil {
		answers = []model.Answer{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"questions": questions,
		"answers":   answers,
	})
}

// SubmitAnswer godoc
// PUT /api/v1/attempts/:attempt_id/answers
// Records or overwrites a response while the attempt is in progress.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.SubmitAnswer(c.Request.Context(), attemptID, claims.StudentID, &req); err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// RunCode godoc
// POST /api/v1/attempts/:attempt_id/run
// Trial-runs a submission against the visible test cases.
func (h *AttemptHandler) RunCode(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	var req model.RunCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	question, err := h.sessions.GetRunnableQuestion(c.Request.Context(), attemptID, claims.StudentID, questionID)
	if err != nil {
		failFromService(c, err)
		return
	}

	results, err := h.scoring.SampleRun(c.Request.Context(), attemptID, question, req.SourceCode, req.Language)
	if err != nil {
		failFromService(c, err)
		return
	}
	if results == nil {
		results = []service.SampleRunResult{}
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// FinalizeAttempt godoc
// POST /api/v1/attempts/:attempt_id/finalize
// Closes the attempt as SUBMITTED. Safe to retry: an already-closed
// attempt returns its stored outcome.
func (h *AttemptHandler) FinalizeAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	attempt, err := h.sessions.Finalize(c.Request.Context(), attemptID, claims.StudentID)
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ReportViolation godoc
// POST /api/v1/attempts/:attempt_id/violations
// Records a proctoring signal and applies the policy table synchronously,
// so the client learns immediately whether it crossed a threshold.
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims, attemptID, ok := h.attemptRequest(c)
	if !ok {
		return
	}

	// Ownership check before the audit write.
	if _, err := h.sessions.GetStatus(c.Request.Context(), attemptID, claims.StudentID); err != nil {
		failFromService(c, err)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.integrity.Report(c.Request.Context(), attemptID, model.ViolationKind(req.Kind))
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ack": ack})
}

// attemptRequest extracts claims and the attempt id path param.
func (h *AttemptHandler) attemptRequest(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, attemptID, true
}

// failFromService maps service sentinels onto HTTP codes.
func failFromService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTestNotFound),
		errors.Is(err, service.ErrQuestionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAlreadyAttempted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyAttempted)
	case errors.Is(err, service.ErrTestInactive):
		response.Fail(c, http.StatusConflict, response.ErrTestInactive)
	case errors.Is(err, service.ErrInvalidStateTransition):
		response.Fail(c, http.StatusConflict, response.ErrInvalidStateTransition)
	case errors.Is(err, service.ErrDeadlineExceeded):
		response.Fail(c, http.StatusConflict, response.ErrDeadlineExceeded)
	case errors.Is(err, service.ErrInvalidAnswer),
		errors.Is(err, service.ErrUnknownViolation):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	case errors.Is(err, sandbox.ErrBusy):
		response.Fail(c, http.StatusServiceUnavailable, response.ErrSandboxBusy)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
