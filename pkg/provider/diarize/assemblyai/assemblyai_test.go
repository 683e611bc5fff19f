package assemblyai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newServer returns a test server implementing the upload → create →
// poll flow, completing after polls status checks.
func newServer(t *testing.T, polls int, final map[string]any) *httptest.Server {
	t.Helper()
	checks := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("missing Authorization header")
		}
		switch {
		case r.URL.Path == "/v2/upload":
			json.NewEncoder(w).Encode(map[string]any{"upload_url": "https://cdn.test/audio"})
		case r.URL.Path == "/v2/transcript" && r.Method == http.MethodPost:
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["speaker_labels"] != true {
				t.Errorf("speaker_labels not requested: %v", req)
			}
			json.NewEncoder(w).Encode(map[string]any{"id": "tr-1", "status": "queued"})
		case strings.HasPrefix(r.URL.Path, "/v2/transcript/"):
			checks++
			if checks <= polls {
				json.NewEncoder(w).Encode(map[string]any{"id": "tr-1", "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(final)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, []byte("RIFFfakeWAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	srv := newServer(t, 2, map[string]any{
		"id": "tr-1", "status": "completed",
		"language_code":  "en",
		"audio_duration": 184.5,
		"utterances": []map[string]any{
			{"speaker": "B", "text": "later turn", "start": 9000, "end": 12000},
			{"speaker": "A", "text": "first turn", "start": 100, "end": 4200},
		},
	})

	p, err := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Language != "en" {
		t.Errorf("language = %q, want en", res.Language)
	}
	if res.AudioDurationMS != 184500 {
		t.Errorf("duration = %d, want 184500", res.AudioDurationMS)
	}
	if len(res.Utterances) != 2 {
		t.Fatalf("utterance count = %d, want 2", len(res.Utterances))
	}
	// Utterances come back sorted by start regardless of provider order.
	if res.Utterances[0].Speaker != "A" || res.Utterances[1].Speaker != "B" {
		t.Errorf("utterances not sorted by start: %+v", res.Utterances)
	}
}

func TestTranscribeProviderError(t *testing.T) {
	t.Parallel()

	srv := newServer(t, 0, map[string]any{
		"id": "tr-1", "status": "error", "error": "audio too noisy",
	})
	p, _ := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	_, err := p.Transcribe(context.Background(), audioFile(t))
	if err == nil || !strings.Contains(err.Error(), "audio too noisy") {
		t.Errorf("err = %v, want provider error message", err)
	}
}

func TestTranscribeHonoursContext(t *testing.T) {
	t.Parallel()

	// Server never completes; the context deadline must end the poll loop.
	srv := newServer(t, 1<<30, nil)
	p, _ := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, audioFile(t))
	if err == nil || !strings.Contains(err.Error(), "deadline") {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestTranscribeDropsInvalidUtterances(t *testing.T) {
	t.Parallel()

	srv := newServer(t, 0, map[string]any{
		"id": "tr-1", "status": "completed", "language_code": "en",
		"utterances": []map[string]any{
			{"speaker": "A", "text": "ok", "start": 0, "end": 1000},
			{"speaker": "A", "text": "zero length", "start": 1000, "end": 1000},
		},
	})
	p, _ := New("test-key", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond))
	res, err := p.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Utterances) != 1 {
		t.Errorf("utterance count = %d, want 1 (zero-length dropped)", len(res.Utterances))
	}
}
