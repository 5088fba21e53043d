package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/retailops/stockledger/internal/app"
	"github.com/retailops/stockledger/internal/integration"
	"github.com/retailops/stockledger/internal/inventory"
	"github.com/retailops/stockledger/internal/masterdata/products"
	"github.com/retailops/stockledger/internal/masterdata/suppliers"
	"github.com/retailops/stockledger/internal/observability"
	"github.com/retailops/stockledger/internal/platform/cache"
	"github.com/retailops/stockledger/internal/platform/db"
	"github.com/retailops/stockledger/internal/platform/migrations"
	"github.com/retailops/stockledger/internal/shared"
	"github.com/retailops/stockledger/jobs"
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

	if cfg.MigrateOnStart {
		if err := migrateUp(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
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

	metrics := observability.NewMetrics()
	inventoryMetrics := observability.NewInventoryMetrics(metrics.Registerer())

	supplierService := suppliers.NewService(
		suppliers.NewRepository(dbpool),
		cache.NewJSONCache(redisClient, suppliers.CacheNamespace, cfg.SupplierCacheTTL),
	)
	catalog := products.NewCatalog(
		products.NewRepository(dbpool),
		cache.NewJSONCache(redisClient, products.CacheNamespace, cfg.SupplierCacheTTL),
	)

	redisOpt := asynq.RedisClientOpt{Addr: redisClient.Options().Addr, Password: redisClient.Options().Password, DB: redisClient.Options().DB}
	jobClient := jobs.NewClient(redisOpt)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	inventoryService := inventory.NewService(
		inventory.NewRepository(dbpool),
		inventory.ServiceConfig{
			DefaultCostingMethod: inventory.CostingMethod(cfg.DefaultCostingMethod),
			ExpiryWindowDays:     cfg.ExpiryWindowDays,
		},
		inventory.ServiceDeps{
			Audit:       shared.NewAuditLogger(dbpool),
			Integration: integration.NewHooks(redisClient, jobClient),
			Suppliers:   supplierService,
			Catalog:     catalog,
			Metrics:     inventoryMetrics,
			Logger:      logger,
		},
	)

	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		SupplierHandler:  suppliers.NewHandler(logger, supplierService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		Database:         dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func migrateUp(dsn string, logger *slog.Logger) error {
	m, err := migrations.New(dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	return m.Up()
}
