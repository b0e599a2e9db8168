package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitclip/workout-worker/internal/llm"
	"github.com/fitclip/workout-worker/internal/pipeline"
)

func synthServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, content, status)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
}

func newSynthesizer(serverURL string) *Synthesizer {
	return NewSynthesizer(llm.NewClient(serverURL, 5*time.Second), nil)
}

const legDayJSON = `{"name":"Leg Day","exercises":[{"name":"Squat","reps":"10","sets":"3","notes":""}],"duration":"30 min","difficulty":"Intermediate","notes":"great session"}`

func TestSynthesizeValidRecord(t *testing.T) {
	server := synthServer(t, legDayJSON, http.StatusOK)
	defer server.Close()

	record, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "leg day!!", "SQUATS 3x10")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}

	if record.Name != "Leg Day" {
		t.Fatalf("name = %q; want Leg Day", record.Name)
	}
	if len(record.Exercises) != 1 || record.Exercises[0].Name != "Squat" {
		t.Fatalf("exercises = %+v; want one Squat entry", record.Exercises)
	}
	if record.Duration != "30 min" || record.Difficulty != "Intermediate" {
		t.Fatalf("duration/difficulty = %q/%q", record.Duration, record.Difficulty)
	}
}

func TestSynthesizeExtractsObjectFromProse(t *testing.T) {
	content := "Sure! Here is the workout you asked for:\n```json\n" + legDayJSON + "\n```\nLet me know if you need anything else."
	server := synthServer(t, content, http.StatusOK)
	defer server.Close()

	record, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "caption", "text")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if record.Name != "Leg Day" {
		t.Fatalf("name = %q; want Leg Day", record.Name)
	}
}

func TestSynthesizeEmptyExercisesAllowed(t *testing.T) {
	server := synthServer(t, `{"name":"Rest Day","exercises":[],"duration":"","difficulty":"","notes":""}`, http.StatusOK)
	defer server.Close()

	record, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "caption", "text")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if record.Exercises == nil || len(record.Exercises) != 0 {
		t.Fatalf("exercises = %#v; want empty non-nil slice", record.Exercises)
	}
}

func TestSynthesizeNoJSONObject(t *testing.T) {
	server := synthServer(t, "I could not find any workout in that video, sorry.", http.StatusOK)
	defer server.Close()

	_, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "caption", "text")
	if !errors.Is(err, pipeline.ErrSynthesisParse) {
		t.Fatalf("expected ErrSynthesisParse, got %v", err)
	}
}

func TestSynthesizeInvalidShape(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing exercises", `{"name":"Leg Day","duration":"30 min"}`},
		{"exercises null", `{"name":"Leg Day","exercises":null}`},
		{"exercises string", `{"name":"Leg Day","exercises":"squats"}`},
		{"exercises object", `{"name":"Leg Day","exercises":{"name":"Squat"}}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			server := synthServer(t, c.content, http.StatusOK)
			defer server.Close()

			_, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "caption", "text")
			if !errors.Is(err, pipeline.ErrInvalidWorkoutShape) {
				t.Fatalf("expected ErrInvalidWorkoutShape, got %v", err)
			}
		})
	}
}

func TestSynthesizeCallFailed(t *testing.T) {
	server := synthServer(t, "rate limited", http.StatusTooManyRequests)
	defer server.Close()

	_, err := newSynthesizer(server.URL).Synthesize(context.Background(), "key", "caption", "text")

	var sc *pipeline.SynthesisCallError
	if !errors.As(err, &sc) {
		t.Fatalf("expected SynthesisCallError, got %v", err)
	}
	if sc.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429", sc.Status)
	}
	if !pipeline.IsRateLimited(err) {
		t.Fatalf("429 synthesis failure should classify as rate limited")
	}
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote", `{"a":"\"}{"}`, `{"a":"\"}{"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"no object", `plain text`, "", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := firstJSONObject(c.in)
			if ok != c.ok || got != c.want {
				t.Fatalf("firstJSONObject(%q) = (%q, %v); want (%q, %v)", c.in, got, ok, c.want, c.ok)
			}
		})
	}
}

func TestPromptCarriesCaptionAndFrameText(t *testing.T) {
	prompt := buildPrompt("leg day!!", "SQUATS 3x10")
	if !strings.Contains(prompt, "leg day!!") || !strings.Contains(prompt, "SQUATS 3x10") {
		t.Fatalf("prompt missing inputs: %q", prompt)
	}
}
