package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-checker/internal/handler"
	internalmiddleware "github.com/noah-isme/revision-checker/internal/middleware"
	"github.com/noah-isme/revision-checker/internal/repository"
	"github.com/noah-isme/revision-checker/internal/service"
	"github.com/noah-isme/revision-checker/pkg/cache"
	"github.com/noah-isme/revision-checker/pkg/config"
	"github.com/noah-isme/revision-checker/pkg/database"
	"github.com/noah-isme/revision-checker/pkg/jobs"
	"github.com/noah-isme/revision-checker/pkg/logger"
	corsmiddleware "github.com/noah-isme/revision-checker/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/revision-checker/pkg/middleware/requestid"
	"github.com/noah-isme/revision-checker/pkg/remote"
	"github.com/noah-isme/revision-checker/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Sugar().Errorw("revision checker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, blob cache disabled", "error", err)
			redisClient = nil
		}
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Blobs.CacheTTL, logr, redisClient != nil)

	revisionRepo := repository.NewRevisionRepository(db)
	blobRepo := repository.NewBlobRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)

	blobSvc := service.NewBlobService(blobRepo, cacheSvc, metrics, logr)
	revisionSvc := service.NewRevisionService(revisionRepo, ticketRepo, blobSvc, validate, logr)
	signer := storage.NewSignedURLSigner(cfg.Blobs.LinkSecret, cfg.Blobs.LinkTTL)
	blobLinkSvc := service.NewBlobLinkService(blobSvc, signer, cfg.Blobs.PublicURL, validate)

	diagnostics, err := storage.NewLocalStorage(cfg.Diagnostics.Dir)
	if err != nil {
		return fmt.Errorf("prepare diagnostics dir: %w", err)
	}

	schedulers := []*jobs.Periodic{
		jobs.NewPeriodic("diagnostics-cleanup", cleanupDiagnostics(diagnostics, cfg.Diagnostics.Retention, logr), cfg.Diagnostics.CleanupInterval, jobs.PeriodicConfig{
			Logger:   logr,
			Observer: metrics,
		}),
	}

	if cfg.Pipeline.Enabled {
		checkers, err := buildCheckSchedulers(ctx, cfg, logr, revisionRepo, assignmentRepo, blobSvc, diagnostics, metrics)
		if err != nil {
			return err
		}
		schedulers = append(schedulers, checkers...)
	}

	for _, scheduler := range schedulers {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler %s: %w", scheduler.Name(), err)
		}
	}
	defer func() {
		for _, scheduler := range schedulers {
			if err := scheduler.Stop(); err != nil {
				logr.Sugar().Warnw("scheduler stop failed", "scheduler", scheduler.Name(), "error", err)
			}
		}
	}()

	router := newRouter(cfg, logr, metrics, db, revisionSvc, blobLinkSvc)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func buildCheckSchedulers(
	ctx context.Context,
	cfg *config.Config,
	logr *zap.Logger,
	revisions *repository.RevisionRepository,
	assignments *repository.AssignmentRepository,
	blobs *service.BlobService,
	diagnostics *storage.LocalStorage,
	metrics *service.MetricsService,
) ([]*jobs.Periodic, error) {
	dialer, err := remote.NewSSHDialer(remote.Config{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		Username:       cfg.Remote.Username,
		KnownHostsFile: cfg.Remote.KnownHostsFile,
		PrivateKeyFile: cfg.Remote.PrivateKeyFile,
		DialTimeout:    cfg.Remote.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure remote worker: %w", err)
	}

	executor := service.NewExecutor(dialer, service.ExecutorConfig{
		HarnessCommand: cfg.Remote.HarnessCommand,
		Parallelism:    cfg.Remote.Parallelism,
		WorkRoot:       cfg.Remote.WorkRoot,
	}, logr)
	selector := service.NewSelectionService(revisions, logr)
	checkSvc := service.NewCheckService(
		revisions,
		assignments,
		selector,
		executor,
		service.NewArtifactDecoder(blobs),
		diagnostics,
		metrics,
		service.CheckServiceConfig{MaxAttemptsPerCycle: cfg.Pipeline.MaxAttemptsPerCycle},
		logr,
	)

	if err := checkSvc.Recover(ctx); err != nil {
		return nil, err
	}

	schedulers := make([]*jobs.Periodic, 0, len(cfg.Pipeline.AssignmentIDs))
	for _, assignmentID := range cfg.Pipeline.AssignmentIDs {
		name := fmt.Sprintf("check-assignment-%d", assignmentID)
		schedulers = append(schedulers, jobs.NewPeriodic(name, checkSvc.Cycle(assignmentID), cfg.Pipeline.Period, jobs.PeriodicConfig{
			DelayFirstCycle:      !cfg.Pipeline.StartImmediately,
			MaxConsecutiveErrors: cfg.Pipeline.MaxConsecutiveErrors,
			CrashloopPeriod:      cfg.Pipeline.CrashloopPeriod,
			Timeout:              cfg.Pipeline.Timeout,
			Logger:               logr.With(zap.String("scheduler", name)),
			Observer:             metrics,
		}))
	}
	return schedulers, nil
}

func cleanupDiagnostics(store *storage.LocalStorage, retention time.Duration, logr *zap.Logger) jobs.Work {
	return func(ctx context.Context) error {
		removed, err := store.CleanupOlderThan(retention)
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			logr.Sugar().Infow("diagnostics removed", "files", len(removed))
		}
		return nil
	}
}

func newRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	db handler.Pinger,
	revisions *service.RevisionService,
	blobLinks *service.BlobLinkService,
) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, db)
	revisionHandler := handler.NewRevisionHandler(revisions)
	blobHandler := handler.NewBlobHandler(blobLinks)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/blobs/:token", blobHandler.Download)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(service.NewTokenVerifier(cfg.JWT.Secret)))
	{
		api.GET("/status", metricsHandler.Status)

		api.GET("/revisions/sync", revisionHandler.SyncStatus)
		api.POST("/revisions", revisionHandler.Ingest)
		api.GET("/revisions/:id", revisionHandler.Get)
		api.GET("/revisions/:id/report", revisionHandler.Report)
		api.POST("/revisions/:id/reported", revisionHandler.MarkReported)
		api.POST("/tickets", revisionHandler.RegisterTicket)
		api.GET("/assignments/:id/reportable", revisionHandler.Reportable)

		api.POST("/blobs/:id/links", blobHandler.CreateLink)
	}

	return r
}
