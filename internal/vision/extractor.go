// Package vision recovers on-screen text from sampled frames through
// a vision-capable chat model. A failed frame is skipped, never fatal:
// any subset of frames may carry useful text.
package vision

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/fitclip/workout-worker/internal/llm"
	"github.com/fitclip/workout-worker/internal/models"
)

const visionModel = "gpt-4o-mini"

// Fixed transcription instruction. The model must return visible text
// only, nothing else.
const transcribePrompt = "Transcribe all text visible in this workout video frame: " +
	"exercise names, rep and set counts, durations. " +
	"Return only the text you can read. If there is no text, return nothing."

// Extractor runs per-frame text extraction with bounded concurrency.
type Extractor struct {
	client      *llm.Client
	concurrency int
	logger      *slog.Logger
}

// NewExtractor creates an extractor. concurrency bounds the in-flight
// vision calls for a single job.
func NewExtractor(client *llm.Client, concurrency int, logger *slog.Logger) *Extractor {
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:      client,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ExtractText transcribes text from every frame and joins the
// non-empty fragments with a blank line, preserving frame order.
//
// The returned error is non-nil only when every frame failed; it
// wraps the last per-frame error so the caller can classify it. An
// all-empty (but successful) run returns ("", nil).
func (e *Extractor) ExtractText(ctx context.Context, apiKey string, frames []models.Frame) (string, error) {
	if len(frames) == 0 {
		return "", nil
	}

	results := make([]string, len(frames))
	errs := make([]error, len(frames))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, e.concurrency)

	for i, frame := range frames {
		wg.Add(1)

		go func(index int, f models.Frame) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			text, err := e.extractFrame(ctx, apiKey, f)
			if err != nil {
				e.logger.Warn("frame text extraction failed, skipping frame",
					"frame", f.Name, "error", err)
				errs[index] = err
				return
			}
			results[index] = strings.TrimSpace(text)
		}(i, frame)
	}

	wg.Wait()

	var fragments []string
	failed := 0
	var lastErr error
	for i, text := range results {
		if errs[i] != nil {
			failed++
			lastErr = errs[i]
			continue
		}
		if text != "" {
			fragments = append(fragments, text)
		}
	}

	if len(fragments) == 0 {
		if failed == len(frames) {
			return "", lastErr
		}
		return "", nil
	}

	return strings.Join(fragments, "\n\n"), nil
}

// extractFrame issues one vision call for one frame.
func (e *Extractor) extractFrame(ctx context.Context, apiKey string, frame models.Frame) (string, error) {
	req := llm.ChatRequest{
		Model: visionModel,
		Messages: []llm.Message{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: transcribePrompt},
					{Type: "image_url", ImageURL: &llm.ImageURL{URL: frame.DataURI, Detail: "low"}},
				},
			},
		},
		MaxTokens: 300,
	}

	return e.client.ChatCompletion(ctx, apiKey, req)
}
