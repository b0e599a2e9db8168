// Package storage persists workout records and job bookkeeping in
// PostgreSQL. Workout updates are partial: unset fields are left
// untouched, and writes are last-write-wins per field.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/fitclip/workout-worker/internal/models"
)

// Store wraps the PostgreSQL connection.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL and initializes the schema.
func NewStore(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates tables and indexes if they don't exist.
func (s *Store) initSchema() error {
	tableSchema := `
	CREATE SCHEMA IF NOT EXISTS fitclip;

	-- Workout records updated by the pipeline
	CREATE TABLE IF NOT EXISTS fitclip.workouts (
		workout_id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		name TEXT,
		exercises JSONB,
		duration VARCHAR(100),
		difficulty VARCHAR(100),
		notes TEXT,
		display_image TEXT,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		error_detail TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Processing jobs
	CREATE TABLE IF NOT EXISTS fitclip.jobs (
		job_id VARCHAR(255) PRIMARY KEY,
		workout_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		source VARCHAR(50),
		caption TEXT,
		video_count INT,
		status VARCHAR(50) NOT NULL,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);
	`

	if _, err := s.db.Exec(tableSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_workouts_user_id ON fitclip.workouts(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workouts_status ON fitclip.workouts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_workout_id ON fitclip.jobs(workout_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON fitclip.jobs(status)`,
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create index: %w (statement: %s)", err, stmt)
		}
	}

	return nil
}

// WorkoutUpdate is a partial field set for a workout record. Nil
// pointers (and a nil Exercises slice) leave the stored value
// untouched.
type WorkoutUpdate struct {
	Name         *string
	Exercises    []models.Exercise
	Duration     *string
	Difficulty   *string
	Notes        *string
	DisplayImage *string
	Status       *string
	ErrorDetail  *string
}

// UpdateWorkout applies upd to the workout row by identifier.
func (s *Store) UpdateWorkout(ctx context.Context, workoutID string, upd WorkoutUpdate) error {
	query, args, err := buildWorkoutUpdate(workoutID, upd)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update workout %s: %w", workoutID, err)
	}
	return nil
}

// buildWorkoutUpdate renders the partial UPDATE for upd. An empty
// update yields an empty query.
func buildWorkoutUpdate(workoutID string, upd WorkoutUpdate) (string, []interface{}, error) {
	setClauses := []string{}
	args := []interface{}{workoutID}

	add := func(column string, value interface{}) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Exercises != nil {
		exercisesJSON, err := json.Marshal(upd.Exercises)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal exercises: %w", err)
		}
		add("exercises", exercisesJSON)
	}
	if upd.Duration != nil {
		add("duration", *upd.Duration)
	}
	if upd.Difficulty != nil {
		add("difficulty", *upd.Difficulty)
	}
	if upd.Notes != nil {
		add("notes", *upd.Notes)
	}
	if upd.DisplayImage != nil {
		add("display_image", *upd.DisplayImage)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ErrorDetail != nil {
		add("error_detail", *upd.ErrorDetail)
	}

	if len(setClauses) == 0 {
		return "", nil, nil
	}
	setClauses = append(setClauses, "updated_at = CURRENT_TIMESTAMP")

	query := fmt.Sprintf(
		"UPDATE fitclip.workouts SET %s WHERE workout_id = $1",
		strings.Join(setClauses, ", "),
	)
	return query, args, nil
}

// StoreJob upserts job bookkeeping at the start of an attempt.
func (s *Store) StoreJob(ctx context.Context, job *models.JobPayload) error {
	query := `
		INSERT INTO fitclip.jobs (job_id, workout_id, user_id, source, caption, video_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = NULL
	`

	enqueuedAt := time.Now()
	if job.EnqueuedAt != nil {
		enqueuedAt = *job.EnqueuedAt
	}

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.WorkoutID,
		job.UserID,
		job.Source,
		job.Caption,
		len(job.Videos),
		models.StatusPending,
		enqueuedAt,
	)
	return err
}

// UpdateJobStatus updates job status and error detail.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE fitclip.jobs
		SET status = $2, error = $3, completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE job_id = $1
	`

	_, err := s.db.ExecContext(ctx, query, jobID, status, errorMsg)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
