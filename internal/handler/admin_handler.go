package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/codexam/codexam-backend/internal/repository"
	"github.com/codexam/codexam-backend/internal/response"
	"github.com/codexam/codexam-backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ResultsLister is the slice of the attempt repository the admin surface
// needs for results review.
type ResultsLister interface {
	ListByTest(ctx context.Context, testID uuid.UUID, page, perPage int) ([]repository.AttemptResult, int64, error)
}

// AdminHandler handles proctor and admin endpoints.
type AdminHandler struct {
	sessions  *service.SessionService
	integrity *service.IntegrityService
	results   ResultsLister
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(sessions *service.SessionService, integrity *service.IntegrityService, results ResultsLister) *AdminHandler {
	return &AdminHandler{
		sessions:  sessions,
		integrity: integrity,
		results:   results,
	}
}

// TerminateAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/terminate
// Force-closes an in-progress attempt.
func (h *AdminHandler) TerminateAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.sessions.Terminate(c.Request.Context(), attemptID, "admin_terminate")
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// OverrideAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/override
// Releases a closed attempt from the one-attempt block so the student
// may retake the test. The original record is retained.
func (h *AdminHandler) OverrideAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessions.AdminOverride(c.Request.Context(), attemptID); err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"archived": true})
}

// ListResults godoc
// GET /api/v1/admin/tests/:test_id/results?page=&per_page=
// Lists student results for a test, newest attempts first per student.
func (h *AdminHandler) ListResults(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	results, total, err := h.results.ListByTest(c.Request.Context(), testID, page, perPage)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if results == nil {
		results = []repository.AttemptResult{}
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// ListViolations godoc
// GET /api/v1/admin/attempts/:attempt_id/violations
// Returns the full proctoring audit trail for an attempt.
func (h *AdminHandler) ListViolations(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	events, err := h.integrity.Violations(c.Request.Context(), attemptID)
	if err != nil {
		failFromService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"violations": events})
}
