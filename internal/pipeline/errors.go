// Package pipeline holds the error taxonomy shared by the processing
// stages and the retry classification applied at the orchestrator
// boundary.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for stages that fail without an upstream status.
var (
	ErrNoFramesFound       = errors.New("no frames found in extraction archive")
	ErrNoTextExtracted     = errors.New("no text extracted from any frame")
	ErrSynthesisParse      = errors.New("no JSON object found in synthesis response")
	ErrInvalidWorkoutShape = errors.New("synthesis response missing exercises array")
)

// DownloadTimeoutError indicates a video download exceeded the hard
// wait cap.
type DownloadTimeoutError struct {
	URL   string
	Limit time.Duration
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download of %s exceeded %s limit", e.URL, e.Limit)
}

// DownloadFailedError indicates a non-success response from a video
// host.
type DownloadFailedError struct {
	URL    string
	Status int
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download of %s failed with status %d", e.URL, e.Status)
}

// ExtractionFailedError indicates a non-success response from the
// frame-extraction service. Body carries the service's textual error.
type ExtractionFailedError struct {
	Status int
	Body   string
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("frame extraction failed with status %d: %s", e.Status, e.Body)
}

// SynthesisCallError indicates a non-success response from the
// language model during workout synthesis.
type SynthesisCallError struct {
	Status  int
	Message string
}

func (e *SynthesisCallError) Error() string {
	return fmt.Sprintf("synthesis call failed with status %d: %s", e.Status, e.Message)
}

// PermanentError marks a job failure that the queue must not retry.
// The consumer translates it into a skip-retry result.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was classified as non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsRateLimited reports whether err carries an upstream rate-limit
// status from any stage. Typed errors are checked first; the string
// fallback catches 429s wrapped beyond recognition.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var df *DownloadFailedError
	if errors.As(err, &df) && df.Status == http.StatusTooManyRequests {
		return true
	}

	var ef *ExtractionFailedError
	if errors.As(err, &ef) && ef.Status == http.StatusTooManyRequests {
		return true
	}

	var sc *SynthesisCallError
	if errors.As(err, &sc) && sc.Status == http.StatusTooManyRequests {
		return true
	}

	return strings.Contains(err.Error(), "429")
}
