// Package queue wires the asynq broker: the worker-side consumer and
// the API-side enqueuer for workout processing jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/pipeline"
)

// TaskTypeProcessWorkout is the asynq task type for one job.
const TaskTypeProcessWorkout = "workout:process"

// Queue names by priority.
const (
	QueueCritical = "fitclip:critical"
	QueueDefault  = "fitclip:default"
	QueueLow      = "fitclip:low"
)

// JobProcessor runs one job to a terminal outcome.
type JobProcessor interface {
	Process(ctx context.Context, job *models.JobPayload) error
}

// Consumer consumes workout processing jobs from the redis queue.
type Consumer struct {
	server    *asynq.Server
	processor JobProcessor
	logger    *slog.Logger
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL    string
	Concurrency int
	Processor   JobProcessor
	Logger      *slog.Logger
}

// NewConsumer creates a queue consumer.
func NewConsumer(config *ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: config.Concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 1min, 2min, 4min...
				return time.Duration(1<<uint(n)) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	return &Consumer{
		server:    server,
		processor: config.Processor,
		logger:    logger,
	}, nil
}

// Start begins consuming. Blocks until Stop is called.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeProcessWorkout, c.handleProcessTask)

	c.logger.Info("starting workout worker")

	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully.
func (c *Consumer) Stop() {
	c.logger.Info("shutting down workout worker")
	c.server.Shutdown()
}

// handleProcessTask runs one job. Permanent pipeline failures are
// translated to SkipRetry so asynq does not re-run them; everything
// else (infrastructure errors, rate-limited stages) is retried with
// backoff.
func (c *Consumer) handleProcessTask(ctx context.Context, task *asynq.Task) error {
	var job models.JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("job received", "job", job.JobID, "source", job.Source)

	if err := c.processor.Process(ctx, &job); err != nil {
		if pipeline.IsPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	return nil
}
