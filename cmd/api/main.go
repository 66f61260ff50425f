package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/receiptsearch/internal/api"
	"github.com/nikhilbhutani/receiptsearch/internal/auth"
	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/database"
	"github.com/nikhilbhutani/receiptsearch/internal/intake"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
	"github.com/nikhilbhutani/receiptsearch/internal/storage"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable at startup", "error", err)
	}
	defer rdb.Close()

	objects, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		slog.Error("object store init failed", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Warn("bucket check failed", "error", err)
	}

	index := search.NewMeilisearchIndex(cfg.Search)
	if err := index.EnsureSettings(ctx); err != nil {
		slog.Warn("search index settings not applied", "error", err)
	}

	jobs := queue.NewClient(cfg.Redis, cfg.Pipeline)
	defer jobs.Close()

	receipts := store.NewReceiptStore(db)
	users := store.NewUserStore(db)
	svc := intake.NewService(receipts, users, objects, jobs, cfg.Pipeline, cfg.Storage.UploadURLTTL)
	jwt := auth.NewJWTMiddleware(cfg.Auth.JWTSecret, users)

	router := api.NewRouter(db, rdb, cfg, svc, index, jwt)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
