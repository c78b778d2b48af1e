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

	"github.com/aegis-iam/aegis-iam/internal/app"
	"github.com/aegis-iam/aegis-iam/internal/audit"
	audithttp "github.com/aegis-iam/aegis-iam/internal/audit/http"
	"github.com/aegis-iam/aegis-iam/internal/auth"
	"github.com/aegis-iam/aegis-iam/internal/authz"
	"github.com/aegis-iam/aegis-iam/internal/identity"
	"github.com/aegis-iam/aegis-iam/internal/observability"
	"github.com/aegis-iam/aegis-iam/internal/platform/cache"
	"github.com/aegis-iam/aegis-iam/internal/platform/db"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
	"github.com/aegis-iam/aegis-iam/internal/shared"
	"github.com/aegis-iam/aegis-iam/internal/users"
	"github.com/aegis-iam/aegis-iam/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	var writer audit.Writer = auditRepo
	if cfg.AuditQueue {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := asynqClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		writer = audit.NewQueueWriter(asynqClient)
	}
	recorder := audit.NewRecorder(writer, logger, metrics, cfg.AuditBuffer)
	defer recorder.Close()

	seeder := rbac.NewSeeder(pool, logger)
	if err := seeder.Run(ctx); err != nil {
		logger.Error("seed roles and permissions", slog.Any("error", err))
		os.Exit(1)
	}

	rbacRepo := rbac.NewRepository(pool)
	usersRepo := users.NewRepository(pool)

	idCache := identity.NewCache(usersRepo, rbacRepo, identity.Config{
		MaxEntries: cfg.IdentityCacheSize,
		TTL:        cfg.IdentityCacheTTL,
	}, metrics)

	authzMw := authz.Middleware{Cache: idCache, Recorder: recorder, Logger: logger}

	authService := auth.NewService(usersRepo, rbacRepo, recorder)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	usersService := users.NewService(usersRepo, idCache, recorder)
	usersHandler := users.NewHandler(logger, usersService, authzMw)

	rolesHandler := rbac.NewHandler(logger, rbacRepo, usersRepo, idCache, recorder, authzMw)
	auditHandler := audithttp.NewHandler(logger, auditRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		Authz:          authzMw,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		RolesHandler:   rolesHandler,
		AuditHandler:   auditHandler,
		JobsHandler:    jobsHandler,
		Pool:           pool,
		Metrics:        metrics,
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
