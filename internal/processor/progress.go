package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitclip/workout-worker/internal/models"
)

const (
	progressKeyPrefix = "fitclip:progress:"
	progressTTL       = 24 * time.Hour
)

// ProgressKey returns the redis key holding the integer percentage
// for a job. The submission API reads the same key.
func ProgressKey(jobID string) string {
	return progressKeyPrefix + jobID
}

// Progress receives stage-boundary progress updates. Reporting is
// best-effort: a failed update never affects the pipeline.
type Progress interface {
	Report(ctx context.Context, jobID string, percent int, status, stage string)
}

// RedisProgress stores the current percentage under the job's
// progress key and publishes the full update on the same channel for
// live subscribers.
type RedisProgress struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisProgress creates a redis-backed progress reporter.
func NewRedisProgress(client *redis.Client, logger *slog.Logger) *RedisProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProgress{client: client, logger: logger}
}

// Report implements Progress.
func (r *RedisProgress) Report(ctx context.Context, jobID string, percent int, status, stage string) {
	key := ProgressKey(jobID)

	if err := r.client.Set(ctx, key, percent, progressTTL).Err(); err != nil {
		r.logger.Warn("failed to store progress", "job", jobID, "error", err)
	}

	update := models.ProgressUpdate{
		JobID:     jobID,
		Status:    status,
		Progress:  percent,
		Stage:     stage,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, key, payload).Err(); err != nil {
		r.logger.Warn("failed to publish progress", "job", jobID, "error", err)
	}
}

// progressTracker enforces the monotonically non-decreasing progress
// contract for one job attempt.
type progressTracker struct {
	progress Progress
	jobID    string
	max      int
}

func (t *progressTracker) report(ctx context.Context, percent int, status, stage string) {
	if percent < t.max {
		percent = t.max
	}
	t.max = percent
	t.progress.Report(ctx, t.jobID, percent, status, stage)
}
