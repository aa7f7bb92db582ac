package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/database"
	"github.com/stemsi/uexam-backend/internal/handler"
	"github.com/stemsi/uexam-backend/internal/judge"
	"github.com/stemsi/uexam-backend/internal/logger"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/proctor"
	"github.com/stemsi/uexam-backend/internal/repository"
	"github.com/stemsi/uexam-backend/internal/router"
	"github.com/stemsi/uexam-backend/internal/service"
	"github.com/stemsi/uexam-backend/internal/validator"
	"github.com/stemsi/uexam-backend/internal/worker"
)

const (
	codeRunLimit     = 20
	codeRunWindow    = time.Minute
	studentAPILimit  = 120
	collectorTimeout = 5 * time.Second
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting UExam Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := repository.NewTestRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)

	// ─── Code Execution ────────────────────────────────────────────────
	executor := judge.NewJudge0Executor(judge.Judge0Config{
		BaseURL:      cfg.Judge.URL,
		APIKey:       cfg.Judge.APIKey,
		APIHost:      cfg.Judge.APIHost,
		CPUTimeLimit: cfg.Judge.CPUTimeLimit,
		MemoryLimit:  cfg.Judge.MemoryLimitKB,
		Timeout:      cfg.Judge.RequestTimeout,
	})
	runner := judge.NewRunner(executor, cfg.Judge.Workers, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	testService := service.NewTestService(testRepo, rdb, cfg.DefinitionCacheTTL, log)
	monitorService := service.NewMonitorService(submissionRepo, violationRepo)
	monitorPublisher := service.NewMonitorPublisher(rdb)

	var collector proctor.Collector = service.NewQueueCollector(rdb)
	if cfg.ViolationCollectorURL != "" {
		collector = service.MultiCollector{
			collector,
			service.NewHTTPCollector(cfg.ViolationCollectorURL, collectorTimeout),
		}
		log.Info().Str("url", cfg.ViolationCollectorURL).Msg("Forwarding violations to external collector")
	}

	sessionService := service.NewSessionService(service.SessionDeps{
		Provider:     testService,
		Runner:       runner,
		Submitter:    service.NewQueueSubmitter(rdb, log),
		Collector:    collector,
		AnswerSink:   service.NewQueueAutosaver(rdb, 24*time.Hour),
		Answers:      service.NewRedisAnswerSource(rdb, answerRepo),
		Submitted:    service.NewSubmittedIndex(rdb, submissionRepo),
		Announcer:    monitorPublisher,
		TickInterval: cfg.SessionTick,
		Retention:    cfg.SessionRetention,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Test:    handler.NewTestHandler(testService, monitorService, log),
		Session: handler.NewSessionHandler(sessionService, log),
		Code:    handler.NewCodeHandler(runner, log),
		Stream:  handler.NewStreamHandler(log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(testService, monitorService, monitorPublisher, log),
		System: handler.NewSystemHandler(rdb, sessionService, []handler.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		}, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	for _, w := range []interface{ Start(context.Context) }{
		worker.NewViolationWorker(pool, rdb, log),
		worker.NewAutosaveWorker(pool, rdb, log),
		worker.NewSubmissionWorker(pool, rdb, testService, log),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	studentLimiter := middleware.NewRateLimiter(studentAPILimit, time.Minute)
	defer studentLimiter.Stop()

	guards := router.Guards{
		Auth:           authService,
		Sessions:       sessionService,
		CodeLimiter:    middleware.NewCodeRunLimiter(rdb, codeRunLimit, codeRunWindow, log),
		StudentLimiter: studentLimiter,
	}
	r := router.SetupRouter(guards, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Submit every running session so no work is lost.
	submitCtx, submitCancel := context.WithTimeout(context.Background(), 15*time.Second)
	sessionService.Close(submitCtx)
	submitCancel()

	// 3. Stop background workers and wait for their final flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
