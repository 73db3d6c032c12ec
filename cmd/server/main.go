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
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
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
		Msg("Starting ExStem Session Server")

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
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool, rdb, log)
	sessionRepo := repository.NewExamSessionRepository(pool)
	orderRepo := repository.NewQuestionOrderRepository(rdb, sessionRepo, cfg.ResumeSnapshotTTL)
	submissionRepo := repository.NewSubmissionRepository(pool)
	resumeCache := repository.NewResumeCacheRepository(rdb, cfg.ResumeSnapshotTTL)
	queueRepo := repository.NewQueueRepository(rdb)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	examService := service.NewExamService(examRepo, questionRepo, log)
	monitorService := service.NewMonitorService(monitorRepo)

	loader := session.NewLoader(questionRepo, orderRepo, nil, log)
	finalizer := session.NewFinalizer(submissionRepo, resumeCache, cfg.SubmitRetry, log)
	sessionService := service.NewExamSessionService(
		examRepo,
		sessionRepo,
		submissionRepo,
		loader,
		finalizer,
		resumeCache,
		queueRepo,
		service.SessionConfig{
			Session: session.Config{Thresholds: cfg.Urgency, Integrity: cfg.Integrity},
			Runner:  service.RunnerConfig{TimerTick: cfg.TimerTick, SnapshotInterval: cfg.ResumeSnapshotInterval},
		},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(sessionService, log),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(rdb, examService, monitorService, log),
		System:        handler.NewSystemHandler(pool, rdb, sessionService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	workers := []interface{ Start(context.Context) }{
		worker.NewAutosaveWorker(pool, rdb, log),
		worker.NewActivityWorker(pool, rdb, log),
		worker.NewScoringWorker(pool, rdb, log),
		worker.NewQuestionOrderWorker(pool, rdb, log),
	}
	var workersWG sync.WaitGroup
	for _, w := range workers {
		workersWG.Add(1)
		go func(w interface{ Start(context.Context) }) {
			defer workersWG.Done()
			w.Start(workerCtx)
		}(w)
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all available exams into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(ctx, cfg.StudentRateLimit, time.Minute)
	r := router.SetupRouter(authService, handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown; they end with their runners.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live sessions, saving a resume snapshot of each.
	runnersCtx, runnersCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer runnersCancel()
	sessionService.Shutdown(runnersCtx)

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workersWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
