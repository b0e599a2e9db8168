package frames

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/fitclip/workout-worker/internal/pipeline"
)

// buildArchive zips the given name->content entries.
func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeTestVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func frameServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("multipart parse failed: %v", err)
		}
		if got := r.FormValue("fps"); got != "1" {
			t.Errorf("fps = %q; want 1", got)
		}
		if got := r.FormValue("format"); got != "zip" {
			t.Errorf("format = %q; want zip", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		w.Write(archive)
	}))
}

func TestExtractSamplingAndThumbnail(t *testing.T) {
	// Seven per-second frames: the stride selects 0, 3, 6.
	entries := map[string][]byte{}
	for i := 0; i < 7; i++ {
		entries[fmt.Sprintf("frame_%03d.png", i)] = []byte(fmt.Sprintf("png-%d", i))
	}
	server := frameServer(t, buildArchive(t, entries))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	bundle, err := c.Extract(context.Background(), writeTestVideo(t))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if len(bundle.Frames) != 3 {
		t.Fatalf("sampled %d frames; want 3", len(bundle.Frames))
	}
	wantNames := []string{"frame_000.png", "frame_003.png", "frame_006.png"}
	for i, want := range wantNames {
		if bundle.Frames[i].Name != want {
			t.Fatalf("frame[%d] = %s; want %s", i, bundle.Frames[i].Name, want)
		}
	}

	wantThumb := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-0"))
	if bundle.Thumbnail != wantThumb {
		t.Fatalf("thumbnail = %q; want %q", bundle.Thumbnail, wantThumb)
	}
	if bundle.Frames[0].DataURI != wantThumb {
		t.Fatalf("first sampled frame should equal the thumbnail")
	}
}

func TestExtractOrdersByName(t *testing.T) {
	// Map iteration order is random; ordering must come from names.
	entries := map[string][]byte{
		"frame_002.png": []byte("c"),
		"frame_000.png": []byte("a"),
		"frame_001.png": []byte("b"),
	}
	server := frameServer(t, buildArchive(t, entries))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	bundle, err := c.Extract(context.Background(), writeTestVideo(t))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if len(bundle.Frames) != 1 || bundle.Frames[0].Name != "frame_000.png" {
		t.Fatalf("expected only frame_000.png sampled, got %+v", bundle.Frames)
	}
	if !strings.HasSuffix(bundle.Thumbnail, base64.StdEncoding.EncodeToString([]byte("a"))) {
		t.Fatalf("thumbnail should be the first frame by name")
	}
}

func TestExtractJPEGMime(t *testing.T) {
	server := frameServer(t, buildArchive(t, map[string][]byte{"frame_000.jpg": []byte("jpeg-bytes")}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	bundle, err := c.Extract(context.Background(), writeTestVideo(t))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if !strings.HasPrefix(bundle.Frames[0].DataURI, "data:image/jpeg;base64,") {
		t.Fatalf("jpg entry should yield image/jpeg data URI, got %q", bundle.Frames[0].DataURI[:30])
	}
}

func TestExtractNoQualifyingImages(t *testing.T) {
	server := frameServer(t, buildArchive(t, map[string][]byte{"manifest.txt": []byte("not an image")}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	_, err := c.Extract(context.Background(), writeTestVideo(t))
	if !errors.Is(err, pipeline.ErrNoFramesFound) {
		t.Fatalf("expected ErrNoFramesFound, got %v", err)
	}
}

func TestExtractServiceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ffmpeg exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	_, err := c.Extract(context.Background(), writeTestVideo(t))

	var ef *pipeline.ExtractionFailedError
	if !errors.As(err, &ef) {
		t.Fatalf("expected ExtractionFailedError, got %v", err)
	}
	if ef.Status != http.StatusBadGateway {
		t.Fatalf("status = %d; want %d", ef.Status, http.StatusBadGateway)
	}
	if !strings.Contains(ef.Body, "ffmpeg exploded") {
		t.Fatalf("error body should carry the service message, got %q", ef.Body)
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a zip"))
	}))
	defer server.Close()

	c := NewClient(server.URL, 0, nil)
	if _, err := c.Extract(context.Background(), writeTestVideo(t)); err == nil {
		t.Fatalf("expected error for corrupt archive")
	}
}
