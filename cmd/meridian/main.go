package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/app"
	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/auth"
	"github.com/meridian-hms/meridian-hms/internal/authz"
	"github.com/meridian-hms/meridian-hms/internal/mfa"
	"github.com/meridian-hms/meridian-hms/internal/observability"
	"github.com/meridian-hms/meridian-hms/internal/platform/cache"
	"github.com/meridian-hms/meridian-hms/internal/roles"
	"github.com/meridian-hms/meridian-hms/internal/shared"
	"github.com/meridian-hms/meridian-hms/internal/users"
	"github.com/meridian-hms/meridian-hms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo, logger)

	authzStore := authz.NewStore(dbpool)
	resolver := authz.NewResolver(authzStore, authzStore,
		authz.NewNormalizedSource(dbpool),
		authz.NewLegacySource(dbpool),
	)
	sessionCounter := authz.NewRedisSessionCounter(redisClient)
	monitor := authz.NewMonitor(redisClient, auditService, logger, authz.MonitorConfig{
		Window:           cfg.FailureWindow,
		FailureThreshold: cfg.FailureThreshold,
		ScanThreshold:    cfg.ScanThreshold,
	})

	guard := authz.NewGuard(authz.GuardConfig{
		Principals: authzStore,
		Roles:      authzStore,
		Resolver:   resolver,
		Sessions:   sessionCounter,
		MFA:        mfa.NewProvider(dbpool),
		SoD:        authz.PairwiseSoDChecker{},
		Sink:       auditService,
		Monitor:    monitor,
		Tracker:    auditService,
		Observer:   metrics,
		Logger:     logger,
	})

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, sessionCounter, auditService)

	rolesRepo := roles.NewRepository(dbpool)
	rolesService := roles.NewService(rolesRepo)
	rolesHandler := roles.NewHandler(logger, rolesService, guard)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, rolesService)
	usersHandler := users.NewHandler(logger, usersService, guard)

	permissionsHandler := authz.NewPermissionsHandler(logger, authzStore, guard)
	auditHandler := audit.NewHandler(logger, auditService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Guard:              guard,
		AuthHandler:        authHandler,
		RolesHandler:       rolesHandler,
		UsersHandler:       usersHandler,
		PermissionsHandler: permissionsHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
