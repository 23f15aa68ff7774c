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
	"github.com/redis/go-redis/v9"

	"github.com/procurehub/procurehub/internal/app"
	"github.com/procurehub/procurehub/internal/catalog"
	"github.com/procurehub/procurehub/internal/document"
	"github.com/procurehub/procurehub/internal/finance"
	"github.com/procurehub/procurehub/internal/identity"
	"github.com/procurehub/procurehub/internal/params"
	"github.com/procurehub/procurehub/internal/procurement"
	"github.com/procurehub/procurehub/internal/reporting"
	"github.com/procurehub/procurehub/internal/shared"
	"github.com/procurehub/procurehub/jobs"
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "procurehub_session", cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(dbpool)

	identityRepo := identity.NewRepository(dbpool)
	identityService := identity.NewService(identityRepo, auditLogger)
	identityHandler := identity.NewHandler(identityService, sessionManager)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo, auditLogger)
	catalogHandler := catalog.NewHandler(catalogService)

	paramsRepo := params.NewRepository(dbpool)
	paramsService := params.NewService(paramsRepo, auditLogger)
	paramsHandler := params.NewHandler(paramsService)

	gotenberg := document.NewClient(cfg.GotenbergURL)
	if err := gotenberg.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	generator := document.NewGenerator(gotenberg, document.NewDiskStore(cfg.DocumentDir))

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, catalogService, auditLogger, generator, queueClient)
	procurementHandler := procurement.NewHandler(procurementService)

	financeRepo := finance.NewRepository(dbpool)
	financeService := finance.NewService(financeRepo, paramsService, auditLogger)
	financeHandler := finance.NewHandler(financeService)

	reportingRepo := reporting.NewRepository(dbpool)
	reportingService := reporting.NewService(reportingRepo, redisClient, cfg.DashboardCacheTTL)
	reportingHandler := reporting.NewHandler(reportingService)

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
		ActorSource:        identityService,
		IdentityHandler:    identityHandler,
		ProcurementHandler: procurementHandler,
		FinanceHandler:     financeHandler,
		CatalogHandler:     catalogHandler,
		ParamsHandler:      paramsHandler,
		ReportingHandler:   reportingHandler,
		JobHandler:         jobHandler,
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
