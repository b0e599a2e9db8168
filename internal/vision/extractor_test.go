package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitclip/workout-worker/internal/llm"
	"github.com/fitclip/workout-worker/internal/models"
)

// visionServer replies per frame based on the inlined image URI.
// reply returns the text to serve, or an HTTP status > 0 to fail the
// call.
func visionServer(t *testing.T, reply func(imageURI string) (string, int)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q; want Bearer test-key", got)
		}

		var req struct {
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					ImageURL *struct {
						URL    string `json:"url"`
						Detail string `json:"detail"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		imageURI := ""
		for _, part := range req.Messages[0].Content {
			if part.Type == "image_url" && part.ImageURL != nil {
				imageURI = part.ImageURL.URL
				if part.ImageURL.Detail != "low" {
					t.Errorf("image detail = %q; want low", part.ImageURL.Detail)
				}
			}
		}

		text, status := reply(imageURI)
		if status > 0 {
			http.Error(w, "model error", status)
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": text}},
			},
		})
	}))
}

func testFrames(n int) []models.Frame {
	frames := make([]models.Frame, n)
	for i := range frames {
		frames[i] = models.Frame{
			Name:    fmt.Sprintf("frame_%03d.png", i),
			DataURI: fmt.Sprintf("data:image/png;base64,AAA%d", i),
		}
	}
	return frames
}

func TestExtractTextJoinsInFrameOrder(t *testing.T) {
	// Later frames answer faster than earlier ones; concatenation
	// order must still follow frame order.
	server := visionServer(t, func(uri string) (string, int) {
		if strings.HasSuffix(uri, "0") {
			time.Sleep(50 * time.Millisecond)
		}
		return "text-" + uri[len(uri)-1:], 0
	})
	defer server.Close()

	e := NewExtractor(llm.NewClient(server.URL, 5*time.Second), 3, nil)
	got, err := e.ExtractText(context.Background(), "test-key", testFrames(3))
	if err != nil {
		t.Fatalf("ExtractText returned error: %v", err)
	}

	want := "text-0\n\ntext-1\n\ntext-2"
	if got != want {
		t.Fatalf("joined text = %q; want %q", got, want)
	}
}

func TestExtractTextSkipsFailedFrames(t *testing.T) {
	server := visionServer(t, func(uri string) (string, int) {
		if strings.HasSuffix(uri, "1") {
			return "", http.StatusInternalServerError
		}
		return "text-" + uri[len(uri)-1:], 0
	})
	defer server.Close()

	e := NewExtractor(llm.NewClient(server.URL, 5*time.Second), 2, nil)
	got, err := e.ExtractText(context.Background(), "test-key", testFrames(3))
	if err != nil {
		t.Fatalf("a single failed frame must not abort extraction: %v", err)
	}

	want := "text-0\n\ntext-2"
	if got != want {
		t.Fatalf("joined text = %q; want %q", got, want)
	}
}

func TestExtractTextDropsEmptyFragments(t *testing.T) {
	server := visionServer(t, func(uri string) (string, int) {
		if strings.HasSuffix(uri, "1") {
			return "   \n ", 0
		}
		return "text-" + uri[len(uri)-1:], 0
	})
	defer server.Close()

	e := NewExtractor(llm.NewClient(server.URL, 5*time.Second), 2, nil)
	got, err := e.ExtractText(context.Background(), "test-key", testFrames(3))
	if err != nil {
		t.Fatalf("ExtractText returned error: %v", err)
	}

	want := "text-0\n\ntext-2"
	if got != want {
		t.Fatalf("joined text = %q; want %q", got, want)
	}
}

func TestExtractTextAllFramesFail(t *testing.T) {
	server := visionServer(t, func(string) (string, int) {
		return "", http.StatusTooManyRequests
	})
	defer server.Close()

	e := NewExtractor(llm.NewClient(server.URL, 5*time.Second), 2, nil)
	got, err := e.ExtractText(context.Background(), "test-key", testFrames(3))
	if got != "" {
		t.Fatalf("all-failed extraction should return empty text, got %q", got)
	}
	if err == nil {
		t.Fatalf("all-failed extraction should surface the last error for classification")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected the 429 marker in the error, got %v", err)
	}
}

func TestExtractTextAllFramesEmpty(t *testing.T) {
	server := visionServer(t, func(string) (string, int) {
		return "", 0
	})
	defer server.Close()

	e := NewExtractor(llm.NewClient(server.URL, 5*time.Second), 2, nil)
	got, err := e.ExtractText(context.Background(), "test-key", testFrames(3))
	if got != "" || err != nil {
		t.Fatalf("all-empty extraction should return (\"\", nil), got (%q, %v)", got, err)
	}
}

func TestExtractTextNoFrames(t *testing.T) {
	e := NewExtractor(llm.NewClient("http://unused", time.Second), 2, nil)
	got, err := e.ExtractText(context.Background(), "test-key", nil)
	if got != "" || err != nil {
		t.Fatalf("no frames should return (\"\", nil), got (%q, %v)", got, err)
	}
}
