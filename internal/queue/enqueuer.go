package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fitclip/workout-worker/internal/models"
)

// Enqueuer submits workout processing jobs from the API side.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an enqueuer for the given redis URL.
func NewEnqueuer(redisURL string) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(redisOpt)}, nil
}

// Enqueue submits job for processing. The task id equals the job id,
// so a duplicate submission of the same job is rejected by the broker
// rather than processed twice.
func (e *Enqueuer) Enqueue(ctx context.Context, job *models.JobPayload) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeProcessWorkout, payload)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.JobID),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(20*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

// Close releases the underlying client.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
