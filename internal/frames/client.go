// Package frames talks to the hosted frame-extraction service: it
// uploads a video, decodes the returned image archive, and samples a
// fixed-interval subset of frames plus a thumbnail candidate.
package frames

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/pipeline"
)

// The service extracts roughly one frame per second; selecting every
// third image approximates one frame every three seconds.
const sampleStride = 3

// Bundle is the result of extracting one video.
type Bundle struct {
	// Frames holds the sampled frames in capture order, each as a
	// base64 data URI.
	Frames []models.Frame
	// Thumbnail is the first extracted image as a data URI, empty if
	// none qualified.
	Thumbnail string
}

// Client submits videos to the extraction endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a frame-extraction client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Extract uploads the video at videoPath and returns the sampled
// frames and thumbnail candidate.
func (c *Client) Extract(ctx context.Context, videoPath string) (*Bundle, error) {
	body, contentType, err := c.buildUpload(videoPath)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/extract", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &pipeline.ExtractionFailedError{Status: resp.StatusCode, Body: string(archive)}
	}

	return c.decodeArchive(archive)
}

// buildUpload assembles the multipart request: the video file plus
// extraction parameters (one frame per second, zipped images).
func (c *Client) buildUpload(videoPath string) (io.Reader, string, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open video: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(videoPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy video into upload: %w", err)
	}

	if err := writer.WriteField("fps", "1"); err != nil {
		return nil, "", fmt.Errorf("failed to write fps field: %w", err)
	}
	if err := writer.WriteField("format", "zip"); err != nil {
		return nil, "", fmt.Errorf("failed to write format field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize upload: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// decodeArchive unpacks the image archive and applies the sampling
// policy. Image names encode capture order, so entries are sorted by
// name before sampling.
func (c *Client) decodeArchive(archive []byte) (*Bundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to open frame archive: %w", err)
	}

	var entries []*zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !isImageName(f.Name) {
			continue
		}
		entries = append(entries, f)
	}
	if len(entries) == 0 {
		return nil, pipeline.ErrNoFramesFound
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	bundle := &Bundle{}
	for i, entry := range entries {
		if i%sampleStride != 0 {
			continue
		}

		uri, err := c.encodeEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %s: %w", entry.Name, err)
		}

		if i == 0 {
			bundle.Thumbnail = uri
		}
		bundle.Frames = append(bundle.Frames, models.Frame{Name: entry.Name, DataURI: uri})
	}

	c.logger.Debug("frames sampled", "total", len(entries), "sampled", len(bundle.Frames))
	return bundle, nil
}

// encodeEntry reads one archive entry and encodes it as a data URI.
func (c *Client) encodeEntry(entry *zip.File) (string, error) {
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	mime := "image/png"
	if ext := strings.ToLower(filepath.Ext(entry.Name)); ext == ".jpg" || ext == ".jpeg" {
		mime = "image/jpeg"
	}

	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}
