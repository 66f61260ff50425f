package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/receiptsearch/internal/cache"
	"github.com/nikhilbhutani/receiptsearch/internal/config"
	"github.com/nikhilbhutani/receiptsearch/internal/database"
	"github.com/nikhilbhutani/receiptsearch/internal/indexer"
	"github.com/nikhilbhutani/receiptsearch/internal/ocr"
	"github.com/nikhilbhutani/receiptsearch/internal/queue"
	"github.com/nikhilbhutani/receiptsearch/internal/queue/workers"
	"github.com/nikhilbhutani/receiptsearch/internal/search"
	"github.com/nikhilbhutani/receiptsearch/internal/storage"
	"github.com/nikhilbhutani/receiptsearch/internal/store"
	"github.com/nikhilbhutani/receiptsearch/internal/sweeper"
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	objects, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		slog.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	index := search.NewMeilisearchIndex(cfg.Search)

	provider, err := ocr.NewProvider(cfg.OCR)
	if err != nil {
		slog.Error("ocr provider init failed", "error", err)
		os.Exit(1)
	}

	receipts := store.NewReceiptStore(db)
	users := store.NewUserStore(db)
	ix := indexer.New(receipts, index)
	jobs := queue.NewClient(cfg.Redis, cfg.Pipeline)
	defer jobs.Close()

	extractWorker := workers.NewExtractWorker(receipts, users, objects, provider, ix, cfg.OCR.MinPDFTextLen)
	sw := sweeper.New(receipts, users, objects, ix, jobs, cache.NewCache(rdb), cfg.Pipeline)
	sweepWorker := workers.NewSweepWorker(sw)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Pipeline.WorkerConcurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeReceiptExtract, asynq.HandlerFunc(extractWorker.ProcessTask))
	registry.Register(queue.TypeReceiptSweep, asynq.HandlerFunc(sweepWorker.ProcessTask))

	scheduler := asynq.NewScheduler(redisOpt, nil)
	spec := fmt.Sprintf("@every %s", cfg.Pipeline.SweepInterval)
	if _, err := scheduler.Register(spec, asynq.NewTask(queue.TypeReceiptSweep, nil)); err != nil {
		slog.Error("failed to register sweep schedule", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	slog.Info("starting worker",
		"concurrency", cfg.Pipeline.WorkerConcurrency,
		"sweep_interval", cfg.Pipeline.SweepInterval.String(),
	)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
