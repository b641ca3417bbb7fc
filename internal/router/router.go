package router

import (
	"net/http"
	"time"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/handler"
	"github.com/codexam/codexam-backend/internal/middleware"
	"github.com/codexam/codexam-backend/internal/response"
	"github.com/codexam/codexam-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Admin   *handler.AdminHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request IDs first so every response carries metadata.
	router.Use(response.RequestIDMiddleware())

	// Compress responses globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Limiter for the synchronous violation endpoint. Proctoring scripts
	// report at most a few events per minute when healthy.
	violationLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/attempts")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("", handlers.Attempt.StartAttempt)
		studentAPI.GET("/active", handlers.Attempt.GetActiveAttempt)
		studentAPI.GET("/:attempt_id/status", handlers.Attempt.GetAttemptStatus)
		studentAPI.GET("/:attempt_id/paper", handlers.Attempt.GetAttemptPaper)
		studentAPI.PUT("/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		studentAPI.POST("/:attempt_id/run", handlers.Attempt.RunCode)
		studentAPI.POST("/:attempt_id/finalize", handlers.Attempt.FinalizeAttempt)
		studentAPI.POST("/:attempt_id/violations", violationLimiter.Middleware(), handlers.Attempt.ReportViolation)
	}

	// ─── 2. WebSocket Group (query token auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:attempt_id/stream",
			middleware.RequireWSAuth(authService, service.RoleStudent),
			handlers.WS.AttemptStream)
		ws.GET("/admin/proctor",
			middleware.RequireWSAuth(authService, service.RoleAdmin),
			handlers.WS.ProctorStream)
	}

	// ─── 3. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.POST("/attempts/:attempt_id/terminate", handlers.Admin.TerminateAttempt)
		adminAPI.POST("/attempts/:attempt_id/override", handlers.Admin.OverrideAttempt)
		adminAPI.GET("/attempts/:attempt_id/violations", handlers.Admin.ListViolations)
		adminAPI.GET("/tests/:test_id/results", handlers.Admin.ListResults)
	}

	return router
}
