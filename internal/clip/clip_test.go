package clip

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/segment"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/pkg/audio"
	audiomock "github.com/MrWong99/voxident/pkg/audio/mock"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxident/pkg/provider/vad/mock"
)

func allSpeechGate() *vad.Gate {
	det := &vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		return []vad.Span{{Start: 0, End: len(samples)}}
	}}
	return vad.NewGate(det, 16000)
}

func testSession(t *testing.T, segments []segment.Span) *session.Session {
	t.Helper()
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "meeting.wav")
	if err := audio.WriteWAVFile(audioPath, make([]float32, 30*16000), 16000); err != nil {
		t.Fatal(err)
	}
	return &session.Session{
		MeetingID:       "cafebabe",
		AudioPath:       audioPath,
		SpeakerSegments: map[string][]segment.Span{"A": segments},
	}
}

func TestBuild_TruncatesToMax(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&audiomock.Transcoder{}, allSpeechGate(), 5000)
	sess := testSession(t, []segment.Span{{Start: 0, End: 4000}, {Start: 6000, End: 10_000}})

	path, err := b.Build(context.Background(), sess, "A")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer os.Remove(path)

	if !strings.HasSuffix(path, "cafebabe_A_clip.wav") {
		t.Errorf("clip path = %q, want <meeting>_<label>_clip.wav naming", path)
	}

	samples, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	// 8 s of stitched speech truncated to 5 s.
	if got, want := len(samples), 5*16000; got != want {
		t.Errorf("clip is %d samples, want %d", got, want)
	}
}

func TestBuild_ShortSpeakerKeptWhole(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&audiomock.Transcoder{}, allSpeechGate(), 5000)
	sess := testSession(t, []segment.Span{{Start: 1000, End: 3500}})

	path, err := b.Build(context.Background(), sess, "A")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer os.Remove(path)

	samples, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(samples), int(2.5*16000); got != want {
		t.Errorf("clip is %d samples, want %d", got, want)
	}
}

func TestBuild_StripsSilence(t *testing.T) {
	t.Parallel()
	// Only the first half of the stitched audio counts as speech.
	det := &vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		return []vad.Span{{Start: 0, End: len(samples) / 2}}
	}}
	b := NewBuilder(&audiomock.Transcoder{}, vad.NewGate(det, 16000), 5000)
	sess := testSession(t, []segment.Span{{Start: 0, End: 6000}})

	path, err := b.Build(context.Background(), sess, "A")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer os.Remove(path)

	samples, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(samples), 3*16000; got != want {
		t.Errorf("clip is %d samples, want the speech half %d", got, want)
	}
}

func TestBuild_CleansIntermediates(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&audiomock.Transcoder{}, allSpeechGate(), 5000)
	sess := testSession(t, []segment.Span{{Start: 0, End: 2000}, {Start: 3000, End: 5000}})

	path, err := b.Build(context.Background(), sess, "A")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(sess.AudioPath))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "meeting.wav" && e.Name() != filepath.Base(path) {
			t.Errorf("leftover intermediate file %s", e.Name())
		}
	}
}

func TestBuild_NotFoundCases(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&audiomock.Transcoder{}, allSpeechGate(), 5000)

	t.Run("unknown label", func(t *testing.T) {
		t.Parallel()
		sess := testSession(t, []segment.Span{{Start: 0, End: 2000}})
		_, err := b.Build(context.Background(), sess, "Z")
		if errdefs.KindOf(err) != errdefs.KindNotFound {
			t.Errorf("kind = %v, want not_found", errdefs.KindOf(err))
		}
	})

	t.Run("label without segments", func(t *testing.T) {
		t.Parallel()
		sess := testSession(t, nil)
		_, err := b.Build(context.Background(), sess, "A")
		if errdefs.KindOf(err) != errdefs.KindNotFound {
			t.Errorf("kind = %v, want not_found", errdefs.KindOf(err))
		}
	})

	t.Run("audio gone", func(t *testing.T) {
		t.Parallel()
		sess := testSession(t, []segment.Span{{Start: 0, End: 2000}})
		os.Remove(sess.AudioPath)
		_, err := b.Build(context.Background(), sess, "A")
		if errdefs.KindOf(err) != errdefs.KindNotFound {
			t.Errorf("kind = %v, want not_found", errdefs.KindOf(err))
		}
	})
}
