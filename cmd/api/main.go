package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"folio/api/internal/app"
	"folio/api/internal/cache"
	"folio/api/internal/config"
	"folio/api/internal/history"
	"folio/api/internal/logging"
	"folio/api/internal/schema"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("folio api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	reg := schema.Default()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, store.WithMigrationLogger(logger.Named("migrate"))); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	var c cache.Cache = cache.NewMemoryCache()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		c = redisCache
		logger.Info("using redis for render cache and ingest dedup")
	}

	snapshots, err := openHistory(ctx, cfg, reg)
	if err != nil {
		return err
	}
	logger.Info("history backend ready", zap.String("backend", cfg.HistoryBackend))

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger.Named("search"))
	go searchService.ReindexAll(ctx)

	service := app.NewService(app.Dependencies{
		Config:   cfg,
		Store:    dataStore,
		History:  snapshots,
		Registry: reg,
		Cache:    c,
		Search:   searchService,
		Logger:   logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("folio api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

func openHistory(ctx context.Context, cfg config.Config, reg *schema.Registry) (history.Log, error) {
	switch cfg.HistoryBackend {
	case config.HistoryMemory:
		return history.NewMemoryLog(reg), nil
	case config.HistoryS3:
		objects, err := history.NewObjectLog(ctx, history.ObjectConfig{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		}, reg)
		if err != nil {
			return nil, fmt.Errorf("object storage failed: %w", err)
		}
		return objects, nil
	default:
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		return history.NewGitLog(cfg.ReposDir, reg), nil
	}
}
