package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"cardforge/internal/config"
	"cardforge/internal/database"
	"cardforge/internal/metrics"
	"cardforge/internal/ratelimit"
	"cardforge/internal/storage"
	"cardforge/internal/tasks"
	"cardforge/internal/template"
	"cardforge/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	// 模板按 (id, version) 加载一次后在并发任务间共享。
	// 版本不匹配说明模板在入队后被更新，且旧内容已不可得。
	cache := template.NewCache(func(ctx context.Context, templateID uint, version int) ([]byte, error) {
		var tpl database.Template
		if err := db.WithContext(ctx).First(&tpl, templateID).Error; err != nil {
			return nil, err
		}
		if tpl.Version != version {
			return nil, fmt.Errorf("template %d version %d superseded by %d", templateID, version, tpl.Version)
		}
		return tpl.Content, nil
	})

	signals := &worker.JobSignals{Redis: redisClient}
	limiter := ratelimit.New(cfg.Render.RatePerSecond, redisClient)

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr()},
		asynq.Config{
			Concurrency: cfg.Render.Concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
				tasks.QueueLow:      1,
			},
			ShutdownTimeout: cfg.Render.ShutdownTimeout(),
			IsFailure: func(err error) bool {
				// 协作式取消会把错误吞掉后返回 nil；
				// 这里只把真正的处理失败计入 asynq 的失败统计。
				return err != nil && !errors.Is(err, context.Canceled)
			},
		},
	)

	renderHandler := worker.NewRenderTaskHandler(
		db,
		storageClient,
		signals,
		cache,
		logger,
		cfg.Render.JobTimeout(),
	)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware(), limiter.Middleware())
	mux.Handle(tasks.TypeCardRender, renderHandler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Render.Concurrency),
		slog.Float64("rate_per_second", cfg.Render.RatePerSecond),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
