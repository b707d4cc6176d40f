package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sahithikokkula/selest/pkg/api"
	"github.com/sahithikokkula/selest/pkg/collector"
	"github.com/sahithikokkula/selest/pkg/config"
	"github.com/sahithikokkula/selest/pkg/estimator"
	"github.com/sahithikokkula/selest/pkg/metrics"
	"github.com/sahithikokkula/selest/pkg/overrides"
	"github.com/sahithikokkula/selest/pkg/registry"
	"github.com/sahithikokkula/selest/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger depends on the config, so report on a default one
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := cfg.Logger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("using database", zap.String("path", cfg.DBPath))

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open sqlite db", zap.Error(err))
	}
	defer db.Close()

	// Pragmas for better performance
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	ctx := context.Background()
	if err := storage.EnsureMetaTables(ctx, db); err != nil {
		logger.Fatal("failed to ensure meta tables", zap.Error(err))
	}

	reg := registry.New(logger)
	if _, err := storage.LoadRegistry(ctx, db, reg, logger); err != nil {
		logger.Warn("some sketches were not loaded", zap.Error(err))
	}
	cat, err := storage.LoadCatalog(ctx, db)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}

	table := overrides.New()
	if path := cfg.Estimator.OverridesPath; path != "" {
		if table, err = overrides.Load(path); err != nil {
			logger.Warn("override table loaded with errors", zap.Error(err))
		}
		logger.Info("loaded overrides", zap.String("path", path), zap.Int("rows", table.Len()))
	}
	table = table.WithMode(cfg.MatchMode())

	m := metrics.New()
	est := estimator.New(reg, table, cat, nil, estimator.Options{
		AutoStatistics:         cfg.Estimator.AutoStatistics,
		HardcodedSelectivities: cfg.Estimator.HardcodedSelectivities,
		RowsInTable:            cfg.Estimator.RowsInTable,
		Recorder:               m,
	}, logger)

	coll, err := collector.Open(ctx, db, collector.Options{
		Epsilon: cfg.Sketch.Epsilon,
		Gamma:   cfg.Sketch.Gamma,
		Seeding: cfg.Seeding(),
		HLLBits: cfg.Sketch.HLLBits,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create collector", zap.Error(err))
	}

	h, err := api.NewHandler(api.Deps{
		DB:        db,
		Estimator: est,
		Registry:  reg,
		Catalog:   cat,
		Overrides: table,
		Collector: coll,
		Metrics:   m,
		Logger:    logger,
		CacheSize: cfg.CacheSize,
	})
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	r := mux.NewRouter()
	api.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("selest server listening", zap.String("addr", "http://localhost:"+cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}
