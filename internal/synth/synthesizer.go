// Package synth turns a caption and the text recovered from frames
// into a validated structured workout via a language model.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fitclip/workout-worker/internal/llm"
	"github.com/fitclip/workout-worker/internal/models"
	"github.com/fitclip/workout-worker/internal/pipeline"
)

const synthesisModel = "gpt-4o-mini"

const systemPrompt = `You convert workout video text into structured data.
Respond with a single JSON object and nothing else, in this exact shape:
{"name": string, "exercises": [{"name": string, "reps": string, "sets": string, "notes": string}], "duration": string, "difficulty": string, "notes": string}`

// Synthesizer calls the language model and validates its output.
type Synthesizer struct {
	client *llm.Client
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(client *llm.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, logger: logger}
}

// Synthesize builds the combined prompt and returns a validated
// workout record. All failure modes are permanent: a malformed model
// response will not improve on retry.
func (s *Synthesizer) Synthesize(ctx context.Context, apiKey, caption, frameText string) (*models.WorkoutRecord, error) {
	req := llm.ChatRequest{
		Model: synthesisModel,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(caption, frameText)},
		},
		MaxTokens:   1000,
		Temperature: 0.2,
	}

	content, err := s.client.ChatCompletion(ctx, apiKey, req)
	if err != nil {
		var se *llm.StatusError
		if errors.As(err, &se) {
			return nil, &pipeline.SynthesisCallError{Status: se.Status, Message: se.Body}
		}
		return nil, fmt.Errorf("synthesis call failed: %w", err)
	}

	return parseRecord(content)
}

func buildPrompt(caption, frameText string) string {
	var b strings.Builder
	b.WriteString("Video caption:\n")
	b.WriteString(caption)
	b.WriteString("\n\nText extracted from the video frames:\n")
	b.WriteString(frameText)
	return b.String()
}

// parseRecord scans content for the first balanced JSON object and
// validates the workout shape. Exercises must be a JSON array;
// anything else is a fatal validation failure.
func parseRecord(content string) (*models.WorkoutRecord, error) {
	span, ok := firstJSONObject(content)
	if !ok {
		return nil, pipeline.ErrSynthesisParse
	}

	var raw struct {
		Name       string          `json:"name"`
		Exercises  json.RawMessage `json:"exercises"`
		Duration   string          `json:"duration"`
		Difficulty string          `json:"difficulty"`
		Notes      string          `json:"notes"`
	}
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSynthesisParse, err)
	}

	trimmed := strings.TrimSpace(string(raw.Exercises))
	if trimmed == "" || trimmed == "null" || trimmed[0] != '[' {
		return nil, pipeline.ErrInvalidWorkoutShape
	}

	var exercises []models.Exercise
	if err := json.Unmarshal(raw.Exercises, &exercises); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrInvalidWorkoutShape, err)
	}
	if exercises == nil {
		exercises = []models.Exercise{}
	}

	return &models.WorkoutRecord{
		Name:       raw.Name,
		Exercises:  exercises,
		Duration:   raw.Duration,
		Difficulty: raw.Difficulty,
		Notes:      raw.Notes,
	}, nil
}

// firstJSONObject returns the first balanced {...} span in s. Braces
// inside JSON strings are ignored.
func firstJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
