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

	"github.com/souqline/souqline/internal/app"
	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/auth"
	"github.com/souqline/souqline/internal/authz"
	"github.com/souqline/souqline/internal/observability"
	"github.com/souqline/souqline/internal/platform/cache"
	"github.com/souqline/souqline/internal/rbac"
	"github.com/souqline/souqline/internal/refunds"
	"github.com/souqline/souqline/internal/routemap"
	"github.com/souqline/souqline/internal/users"
	"github.com/souqline/souqline/internal/vendors"
	"github.com/souqline/souqline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	slog.SetDefault(logger)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Token revocation lives in Redis; without it every bearer token check
	// fails closed, so refuse to start.
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

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	sink := audit.NewSink(auditRepo, logger, cfg.AuditQueueSize)
	defer sink.Close()
	auditHandler := audit.NewHandler(logger, auditRepo)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo)
	rbacHandler := rbac.NewHandler(logger, rbacService)

	routemapRepo := routemap.NewRepository(pool)
	routemapService := routemap.NewService(routemapRepo)

	engine := authz.NewEngine(authz.Config{
		Resolver: rbacRepo,
		Mappings: routemapService,
		Sink:     sink,
		Logger:   logger,
		Metrics:  metrics,
		CacheTTL: cfg.AuthzCacheTTL,
	})
	engine.StartSweeps(ctx)
	routemapService.SetInvalidator(engine.Cache())
	routemapHandler := routemap.NewHandler(logger, routemapService)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rbacService, sink)
	usersHandler := users.NewHandler(logger, usersService)

	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)
	revocation := auth.NewRevocationList(redisClient)
	authService := auth.NewService(usersRepo, issuer, revocation, sink)
	authHandler := auth.NewHandler(logger, authService)

	refundsRepo := refunds.NewRepository(pool)
	refundsService := refunds.NewService(refundsRepo, sink)
	refundsHandler := refunds.NewHandler(logger, refundsService)

	vendorsRepo := vendors.NewRepository(pool)
	vendorsStore := vendors.NewCachedStore(vendorsRepo, redisClient, 10*time.Minute)
	vendorsHandler := vendors.NewHandler(logger, vendorsStore)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		Metrics:  metrics,
		Engine:   engine,
		Auth:     authService,
		AuthH:    authHandler,
		RBACH:    rbacHandler,
		RouteMap: routemapHandler,
		AuditH:   auditHandler,
		UsersH:   usersHandler,
		RefundsH: refundsHandler,
		VendorsH: vendorsHandler,
		JobsH:    jobsHandler,
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
