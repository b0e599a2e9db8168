// Package processor orchestrates the workout-video pipeline: acquire
// media, extract frames, recover on-screen text, synthesize the
// structured workout, and commit exactly one terminal outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fitclip/workout-worker/internal/frames"
	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/pipeline"
	"github.com/fitclip/workout-worker/internal/storage"
)

// notesEnhancementMarker is appended to synthesized workout notes so
// users can tell generated records from hand-written ones.
const notesEnhancementMarker = "Created from your video by Fitclip."

// Collaborator contracts. The orchestrator owns sequencing and
// classification; each stage owns its own transport.
type (
	// MediaAcquirer resolves a video reference to a caller-owned
	// temporary file.
	MediaAcquirer interface {
		Acquire(ctx context.Context, ref models.VideoRef, source, jobID string) (string, func(), error)
	}

	// FrameService extracts sampled frames from a local video file.
	FrameService interface {
		Extract(ctx context.Context, videoPath string) (*frames.Bundle, error)
	}

	// TextExtractor recovers concatenated on-screen text from frames.
	TextExtractor interface {
		ExtractText(ctx context.Context, apiKey string, frames []models.Frame) (string, error)
	}

	// WorkoutSynthesizer produces a validated workout record.
	WorkoutSynthesizer interface {
		Synthesize(ctx context.Context, apiKey, caption, frameText string) (*models.WorkoutRecord, error)
	}

	// WorkoutStore is the persistence collaborator.
	WorkoutStore interface {
		StoreJob(ctx context.Context, job *models.JobPayload) error
		UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error
		UpdateWorkout(ctx context.Context, workoutID string, upd storage.WorkoutUpdate) error
	}

	// Notifier delivers best-effort outcome notifications.
	Notifier interface {
		Send(ctx context.Context, userID, workoutName string, success bool) error
	}
)

// Orchestrator drives one job through the pipeline state machine.
type Orchestrator struct {
	media    MediaAcquirer
	frames   FrameService
	vision   TextExtractor
	synth    WorkoutSynthesizer
	store    WorkoutStore
	notifier Notifier
	progress Progress

	// textStageTimeout caps the whole per-frame extraction stage so a
	// slow provider cannot stretch a job unboundedly.
	textStageTimeout time.Duration

	logger *slog.Logger
}

// NewOrchestrator wires the pipeline collaborators.
func NewOrchestrator(
	media MediaAcquirer,
	frameService FrameService,
	vision TextExtractor,
	synth WorkoutSynthesizer,
	store WorkoutStore,
	notifier Notifier,
	progress Progress,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		media:            media,
		frames:           frameService,
		vision:           vision,
		synth:            synth,
		store:            store,
		notifier:         notifier,
		progress:         progress,
		textStageTimeout: 10 * time.Minute,
		logger:           logger,
	}
}

// Process runs the full pipeline for one job attempt.
//
// Rate-limited stage errors are returned upward so the queue's
// backoff re-runs the whole job; the persisted status stays
// "processing". Every other stage failure commits a terminal failed
// status and comes back wrapped as a PermanentError so the queue does
// not retry.
func (o *Orchestrator) Process(ctx context.Context, job *models.JobPayload) error {
	o.logger.Info("processing job", "job", job.JobID, "workout", job.WorkoutID, "videos", len(job.Videos))

	if err := o.store.StoreJob(ctx, job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	if err := o.store.UpdateJobStatus(ctx, job.JobID, models.StatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	processing := models.StatusProcessing
	if err := o.store.UpdateWorkout(ctx, job.WorkoutID, storage.WorkoutUpdate{Status: &processing}); err != nil {
		return fmt.Errorf("failed to mark workout processing: %w", err)
	}

	prog := &progressTracker{progress: o.progress, jobID: job.JobID}
	prog.report(ctx, 5, models.StatusProcessing, "started")

	ordered := orderVideos(job.Videos)
	if len(ordered) == 0 {
		return o.fail(ctx, job, "acquire", errors.New("job has no videos"))
	}

	// Acquire and extract per video, pooling frames across videos.
	// Uploaded files run before URLs so the first successful video
	// supplies the thumbnail candidate.
	var pooled []models.Frame
	thumbnail := ""
	for i, ref := range ordered {
		videoPath, release, err := o.media.Acquire(ctx, ref, job.Source, job.JobID)
		if err != nil {
			return o.fail(ctx, job, "acquire", err)
		}

		bundle, err := o.frames.Extract(ctx, videoPath)
		// The temp video is gone the moment its frames exist,
		// regardless of downstream outcome.
		release()
		if err != nil {
			return o.fail(ctx, job, "extract frames", err)
		}

		if thumbnail == "" {
			thumbnail = bundle.Thumbnail
		}
		pooled = append(pooled, bundle.Frames...)

		prog.report(ctx, 5+(55*(i+1))/len(ordered), models.StatusProcessing,
			fmt.Sprintf("extracted frames from video %d/%d", i+1, len(ordered)))
	}

	if len(pooled) == 0 {
		return o.fail(ctx, job, "extract frames", pipeline.ErrNoFramesFound)
	}

	textCtx, cancel := context.WithTimeout(ctx, o.textStageTimeout)
	frameText, verr := o.vision.ExtractText(textCtx, job.APIKey, pooled)
	cancel()
	if frameText == "" {
		err := error(pipeline.ErrNoTextExtracted)
		if verr != nil {
			err = fmt.Errorf("%w: %v", pipeline.ErrNoTextExtracted, verr)
		}
		return o.fail(ctx, job, "extract text", err)
	}
	prog.report(ctx, 75, models.StatusProcessing, "text extracted")

	record, err := o.synth.Synthesize(ctx, job.APIKey, job.Caption, frameText)
	if err != nil {
		return o.fail(ctx, job, "synthesize", err)
	}
	prog.report(ctx, 90, models.StatusProcessing, "workout synthesized")

	displayImage := resolveDisplayImage(job, thumbnail)
	notes := enhanceNotes(record.Notes)

	completed := models.StatusCompleted
	empty := ""
	update := storage.WorkoutUpdate{
		Name:         &record.Name,
		Exercises:    record.Exercises,
		Duration:     &record.Duration,
		Difficulty:   &record.Difficulty,
		Notes:        &notes,
		DisplayImage: &displayImage,
		Status:       &completed,
		ErrorDetail:  &empty,
	}
	if err := o.store.UpdateWorkout(ctx, job.WorkoutID, update); err != nil {
		return fmt.Errorf("failed to persist workout: %w", err)
	}
	if err := o.store.UpdateJobStatus(ctx, job.JobID, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	prog.report(ctx, 100, models.StatusCompleted, "completed")

	if nerr := o.notifier.Send(ctx, job.UserID, record.Name, true); nerr != nil {
		o.logger.Warn("success notification failed", "job", job.JobID, "error", nerr)
	}

	o.logger.Info("job completed", "job", job.JobID, "workout", job.WorkoutID,
		"exercises", len(record.Exercises))
	return nil
}

// fail classifies a stage error and commits the corresponding
// outcome. Rate-limited errors leave the records in "processing" and
// surface upward for the queue's backoff; everything else is a
// terminal failure.
func (o *Orchestrator) fail(ctx context.Context, job *models.JobPayload, stage string, err error) error {
	if pipeline.IsRateLimited(err) {
		o.logger.Warn("stage rate limited, leaving job to queue retry",
			"job", job.JobID, "stage", stage, "error", err)
		return fmt.Errorf("%s rate limited: %w", stage, err)
	}

	o.logger.Error("stage failed", "job", job.JobID, "stage", stage, "error", err)

	detail := err.Error()
	failed := models.StatusFailed
	if perr := o.store.UpdateWorkout(ctx, job.WorkoutID, storage.WorkoutUpdate{Status: &failed, ErrorDetail: &detail}); perr != nil {
		o.logger.Error("failed to persist failure status", "job", job.JobID, "error", perr)
	}
	if perr := o.store.UpdateJobStatus(ctx, job.JobID, models.StatusFailed, detail); perr != nil {
		o.logger.Error("failed to update job status", "job", job.JobID, "error", perr)
	}

	if nerr := o.notifier.Send(ctx, job.UserID, "", false); nerr != nil {
		o.logger.Warn("failure notification failed", "job", job.JobID, "error", nerr)
	}

	return pipeline.Permanent(fmt.Errorf("%s: %w", stage, err))
}

// orderVideos partitions the job's videos stably: uploaded files
// first, then URLs.
func orderVideos(videos []models.VideoRef) []models.VideoRef {
	ordered := make([]models.VideoRef, 0, len(videos))
	for _, v := range videos {
		if v.IsLocal() {
			ordered = append(ordered, v)
		}
	}
	for _, v := range videos {
		if !v.IsLocal() {
			ordered = append(ordered, v)
		}
	}
	return ordered
}

// resolveDisplayImage substitutes the captured thumbnail only for
// TikTok jobs, whose preview links rot quickly. Everything else keeps
// the caller-supplied display URL.
func resolveDisplayImage(job *models.JobPayload, thumbnail string) string {
	if job.Source == models.SourceTikTok && thumbnail != "" {
		return thumbnail
	}
	return job.DisplayURL
}

func enhanceNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return notesEnhancementMarker
	}
	return notes + "\n\n" + notesEnhancementMarker
}
