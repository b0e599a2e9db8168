// Package media obtains raw video bytes for a unit of work: either a
// passthrough of an already-uploaded file or a capped HTTP download
// with source-specific request shaping.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/pipeline"
)

// Acquirer resolves a video reference to a local, caller-owned
// temporary file.
type Acquirer struct {
	client  *http.Client
	tempDir string
	timeout time.Duration
	logger  *slog.Logger
}

// AcquirerConfig holds configuration for the acquirer.
type AcquirerConfig struct {
	TempDir string        // Default: /tmp
	Timeout time.Duration // Default: 30s hard cap per download
	Logger  *slog.Logger
}

// NewAcquirer creates an acquirer with defaults applied.
func NewAcquirer(config *AcquirerConfig) *Acquirer {
	if config == nil {
		config = &AcquirerConfig{}
	}
	if config.TempDir == "" {
		config.TempDir = "/tmp"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Acquirer{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		tempDir: config.TempDir,
		timeout: config.Timeout,
		logger:  config.Logger,
	}
}

// Acquire resolves ref to a local file path. The returned cleanup
// func deletes the file and must be called on every exit path once
// the file is no longer needed.
//
// Local references transfer deletion ownership to the caller without
// touching the network. URL references are downloaded with a hard
// wait cap; exceeding it yields a DownloadTimeoutError.
func (a *Acquirer) Acquire(ctx context.Context, ref models.VideoRef, source, jobID string) (string, func(), error) {
	if ref.IsLocal() {
		if _, err := os.Stat(ref.FilePath); err != nil {
			return "", nil, fmt.Errorf("uploaded file missing: %w", err)
		}
		path := ref.FilePath
		return path, func() { a.removeQuiet(path) }, nil
	}

	path, err := a.download(ctx, ref.URL, source, jobID)
	if err != nil {
		return "", nil, err
	}
	return path, func() { a.removeQuiet(path) }, nil
}

// download performs a single GET bounded by the acquirer's timeout.
func (a *Acquirer) download(ctx context.Context, url, source, jobID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	a.shapeRequest(req, source)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &pipeline.DownloadTimeoutError{URL: url, Limit: a.timeout}
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 206 is expected when the Range header was honored.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", &pipeline.DownloadFailedError{URL: url, Status: resp.StatusCode}
	}

	tempFile, err := a.createTempFile(jobID)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &pipeline.DownloadTimeoutError{URL: url, Limit: a.timeout}
		}
		return "", fmt.Errorf("download failed: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	a.logger.Debug("video downloaded", "url", url, "path", tempFile.Name())
	return tempFile.Name(), nil
}

// shapeRequest adapts headers for hosts known to block generic
// clients. Best-effort compatibility shim, not a correctness
// requirement.
func (a *Acquirer) shapeRequest(req *http.Request, source string) {
	if source == models.SourceTikTok || strings.Contains(req.URL.Host, "tiktok") {
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Referer", "https://www.tiktok.com/")
		req.Header.Set("Origin", "https://www.tiktok.com")
		req.Header.Set("Range", "bytes=0-")
		req.Header.Set("Accept", "video/webm,video/ogg,video/*;q=0.9,application/ogg;q=0.7,audio/*;q=0.6,*/*;q=0.5")
		return
	}
	req.Header.Set("User-Agent", "fitclip-worker/1.0")
}

// createTempFile creates a uniquely named temp file for the download.
func (a *Acquirer) createTempFile(jobID string) (*os.File, error) {
	if err := os.MkdirAll(a.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	pattern := fmt.Sprintf("fitclip-%s-%s-*.mp4", jobID, uuid.New().String()[:8])
	tempFile, err := os.CreateTemp(a.tempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return tempFile, nil
}

func (a *Acquirer) removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		a.logger.Warn("failed to remove video file", "path", path, "error", err)
	}
}
