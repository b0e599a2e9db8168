package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/fitclip/workout-worker/internal/config"
	"github.com/fitclip/workout-worker/internal/frames"
	"github.com/fitclip/workout-worker/internal/llm"
	"github.com/fitclip/workout-worker/internal/media"
	"github.com/fitclip/workout-worker/internal/notify"
	"github.com/fitclip/workout-worker/internal/processor"
	"github.com/fitclip/workout-worker/internal/queue"
	"github.com/fitclip/workout-worker/internal/storage"
	"github.com/fitclip/workout-worker/internal/synth"
	"github.com/fitclip/workout-worker/internal/vision"
)

func main() {
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	logger.Info("workout worker starting")

	cfg := config.Load()
	ctx := context.Background()

	// Redis client for progress updates.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse Redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("redis connection established")

	// Persistence.
	store, err := storage.NewStore(cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized")

	// Pipeline stages.
	llmClient := llm.NewClient(cfg.LLMBaseURL, 60*time.Second)

	acquirer := media.NewAcquirer(&media.AcquirerConfig{
		TempDir: cfg.TempDir,
		Logger:  logger,
	})
	frameClient := frames.NewClient(cfg.FrameServiceURL, 2*time.Minute, logger)
	textExtractor := vision.NewExtractor(llmClient, cfg.FrameTextConcurrency, logger)
	synthesizer := synth.NewSynthesizer(llmClient, logger)
	notifier := notify.NewClient(cfg.PushGatewayURL, logger)
	progress := processor.NewRedisProgress(redisClient, logger)

	orchestrator := processor.NewOrchestrator(
		acquirer,
		frameClient,
		textExtractor,
		synthesizer,
		store,
		notifier,
		progress,
		logger,
	)
	logger.Info("pipeline initialized")

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.WorkerConcurrency,
		Processor:   orchestrator,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("workout worker ready, waiting for jobs",
		"concurrency", cfg.WorkerConcurrency,
		"temp_dir", cfg.TempDir,
		"frame_service", cfg.FrameServiceURL)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping gracefully")
		consumer.Stop()
	case err := <-errChan:
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("workout worker stopped")
}
