package models

import "time"

// Source tags declared at submission time. The tag controls download
// request shaping and thumbnail substitution, not pipeline flow.
const (
	SourceTikTok  = "tiktok"
	SourceGeneric = "generic"
)

// Job and workout statuses persisted by the worker.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// VideoRef is one video belonging to a job: either a file already
// uploaded through the API (owned by the job until consumed) or a
// remote URL (read-only, no cleanup responsibility).
type VideoRef struct {
	FilePath string `json:"filePath,omitempty"`
	URL      string `json:"url,omitempty"`
}

// IsLocal reports whether the reference points at an uploaded file.
func (v VideoRef) IsLocal() bool {
	return v.FilePath != ""
}

// JobPayload is the unit of work consumed from the queue. One payload
// is processed exactly once per attempt by a single worker; a retried
// job reruns the full pipeline from scratch.
type JobPayload struct {
	JobID      string     `json:"jobId"`
	UserID     string     `json:"userId"`
	WorkoutID  string     `json:"workoutId"`
	Caption    string     `json:"caption"`
	Source     string     `json:"source"`
	DisplayURL string     `json:"displayUrl"`
	Videos     []VideoRef `json:"videos"`
	APIKey     string     `json:"apiKey"`
	EnqueuedAt *time.Time `json:"enqueuedAt,omitempty"`
}

// Exercise is a single entry in a synthesized workout. Reps and sets
// stay as strings: the model returns ranges ("8-12") and durations
// ("30s") that do not fit an int.
type Exercise struct {
	Name  string `json:"name"`
	Reps  string `json:"reps"`
	Sets  string `json:"sets"`
	Notes string `json:"notes"`
}

// WorkoutRecord is the structured output of synthesis. Exercises is
// always a slice; an absent or non-array value in the model response
// is rejected during validation.
type WorkoutRecord struct {
	Name       string     `json:"name"`
	Exercises  []Exercise `json:"exercises"`
	Duration   string     `json:"duration"`
	Difficulty string     `json:"difficulty"`
	Notes      string     `json:"notes"`
}

// Frame is an image sampled from a video, inline-encoded as a data
// URI. Frames are discarded after text extraction; the first frame of
// the first successfully processed video doubles as the thumbnail
// candidate.
type Frame struct {
	Name    string `json:"name"`
	DataURI string `json:"dataUri"`
}

// ProgressUpdate is published on the job progress channel as stages
// complete. Progress is an integer percentage 0-100, monotonically
// non-decreasing for a given job.
type ProgressUpdate struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}
