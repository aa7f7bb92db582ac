package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/handler"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Test    *handler.TestHandler
	Session *handler.SessionHandler
	Code    *handler.CodeHandler
	Stream  *handler.StreamHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// Guards are the middlewares that depend on running services.
type Guards struct {
	Auth           middleware.TokenValidator
	Sessions       middleware.SessionLookup
	CodeLimiter    *middleware.CodeRunLimiter
	StudentLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(guards Guards, handlers *Handlers, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log and every envelope carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))
	router.Use(gin.Recovery())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Teacher Group (JWT) ────────────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(guards.Auth))
	{
		teacherAPI.POST("/tests", handlers.Test.CreateTest)
		teacherAPI.GET("/tests", handlers.Test.ListMyTests)
		teacherAPI.GET("/tests/:id", handlers.Test.GetTest)
		teacherAPI.GET("/tests/:id/submissions", handlers.Test.GetOverview)
		teacherAPI.GET("/tests/:id/students/:studentId/violations", handlers.Test.GetStudentViolations)
		teacherAPI.GET("/tests/:id/monitor", handlers.Monitor.MonitorTestSSE)
		teacherAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	// ─── 2. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(guards.Auth), guards.StudentLimiter.Middleware())
	{
		studentAPI.GET("/tests/link/:link", handlers.Test.GetByLink)

		session := studentAPI.Group("/tests/:id/session")
		session.Use(middleware.NoStore())
		{
			session.POST("", handlers.Session.StartSession)
			session.GET("", middleware.RequireLiveSession(guards.Sessions), handlers.Session.GetSession)
			session.POST("/submit", middleware.RequireLiveSession(guards.Sessions), handlers.Session.SubmitSession)
		}
	}

	// ─── 3. Code Group (any JWT) ───────────────────────────────────────
	codeAPI := router.Group("/api/v1/code")
	{
		codeAPI.GET("/languages", middleware.CacheControl(3600), handlers.Code.ListLanguages)
		codeAPI.POST("/run",
			middleware.RequireJWT(guards.Auth),
			middleware.RequireRole(service.TokenTypeStudent, service.TokenTypeTeacher),
			guards.CodeLimiter.Middleware(),
			handlers.Code.RunCode,
		)
	}

	// ─── 4. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(guards.Auth))
	{
		ws.GET("/student/tests/:id/stream",
			middleware.RequireLiveSession(guards.Sessions),
			handlers.Stream.SessionStream,
		)
	}

	return router
}
