package segment

import (
	"context"
	"os"
	"testing"

	audiomock "github.com/MrWong99/voxident/pkg/audio/mock"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxident/pkg/provider/vad/mock"
)

// allSpeech treats every sample as speech, so post-VAD speech equals
// wall-clock duration for the mock transcoder's extracts.
func allSpeech() *vad.Gate {
	det := &vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		return []vad.Span{{Start: 0, End: len(samples)}}
	}}
	return vad.NewGate(det, 16000)
}

// halfSpeech marks only the first half of every buffer as speech.
func halfSpeech() *vad.Gate {
	det := &vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		return []vad.Span{{Start: 0, End: len(samples) / 2}}
	}}
	return vad.NewGate(det, 16000)
}

func utt(startMS, endMS int64) diarize.Utterance {
	return diarize.Utterance{Speaker: "A", StartMS: startMS, EndMS: endMS}
}

func newSelector(gate *vad.Gate) *Selector {
	return NewSelector(&audiomock.Transcoder{}, gate, DefaultParams())
}

func TestSelect_SingleLongUtterance(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	// 12 s utterance meets the 10 s target on its own.
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "A", []diarize.Utterance{
		utt(500, 2000),
		utt(3000, 15_000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sel.Segments))
	}
	if sel.Segments[0] != (Span{Start: 3000, End: 15_000}) {
		t.Errorf("segment = %+v, want [3000, 15000)", sel.Segments[0])
	}
	if sel.LongestUtteranceMS != 12_000 {
		t.Errorf("longest = %d, want 12000", sel.LongestUtteranceMS)
	}
	if sel.SpeechMS != 12_000 {
		t.Errorf("speech = %d, want 12000", sel.SpeechMS)
	}
	if sel.LowQuality {
		t.Error("12 s of speech should not be low quality")
	}
	if sel.StitchedPath == "" {
		t.Fatal("stitched path missing")
	}
	if _, err := os.Stat(sel.StitchedPath); err != nil {
		t.Errorf("stitched file not on disk: %v", err)
	}
}

func TestSelect_SingleLongUtteranceClipped(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	// 30 s utterance is clipped to the 20 s single-segment cap.
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "A", []diarize.Utterance{
		utt(1000, 31_000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(sel.Segments))
	}
	if sel.Segments[0] != (Span{Start: 1000, End: 21_000}) {
		t.Errorf("segment = %+v, want [1000, 21000)", sel.Segments[0])
	}
	if sel.SpeechMS != 20_000 {
		t.Errorf("speech = %d, want 20000", sel.SpeechMS)
	}
}

func TestSelect_AccumulatesUntilTarget(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	// Durations 5000, 4000, 3000: the two longest reach 9000 < 10000, so
	// the third is admitted too; the 1500 ms one never qualifies.
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "B", []diarize.Utterance{
		utt(0, 3000),
		utt(4000, 5500),
		utt(10_000, 15_000),
		utt(20_000, 24_000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(sel.Segments), sel.Segments)
	}

	// Temporal order restored regardless of admission order.
	want := []Span{{0, 3000}, {10_000, 15_000}, {20_000, 24_000}}
	for i, w := range want {
		if sel.Segments[i] != w {
			t.Errorf("segments[%d] = %+v, want %+v", i, sel.Segments[i], w)
		}
	}
	if sel.SpeechMS != 12_000 {
		t.Errorf("speech = %d, want 12000", sel.SpeechMS)
	}
	if sel.LowQuality {
		t.Error("12 s of speech should not be low quality")
	}
}

func TestSelect_StopsAtMaxCount(t *testing.T) {
	t.Parallel()
	gate := halfSpeech() // 2000 ms utterances measure 1000 ms speech each
	s := newSelector(gate)

	var utts []diarize.Utterance
	for i := int64(0); i < 8; i++ {
		utts = append(utts, utt(i*3000, i*3000+2000))
	}
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "C", utts)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 5 {
		t.Errorf("got %d segments, want max count 5", len(sel.Segments))
	}
	// 5 x 1000 ms of speech is below the 8000 ms identification floor.
	if !sel.LowQuality {
		t.Error("5 s of speech should be flagged low quality")
	}
}

func TestSelect_VADAwareAccumulation(t *testing.T) {
	t.Parallel()
	// Half speech: each 4000 ms utterance contributes only 2000 ms, so
	// reaching the 10 s target needs five utterances even though their
	// wall-clock sum passes 10 s after three.
	s := newSelector(halfSpeech())

	var utts []diarize.Utterance
	for i := int64(0); i < 6; i++ {
		utts = append(utts, utt(i*5000, i*5000+4000))
	}
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "D", utts)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 5 {
		t.Errorf("got %d segments, want 5", len(sel.Segments))
	}
}

func TestSetParams_AppliesToLaterSelects(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	// 4 s passes the default 2 s admission gate.
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "A", []diarize.Utterance{
		utt(0, 4000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Empty() {
		t.Fatal("4 s utterance should be selected under default bounds")
	}

	p := DefaultParams()
	p.MinUtteranceMS = 5000
	s.SetParams(p)

	sel, err = s.Select(context.Background(), "meeting.wav", t.TempDir(), "A", []diarize.Utterance{
		utt(0, 4000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sel.Empty() {
		t.Error("4 s utterance should fall below the raised 5 s gate")
	}
}

func TestSelect_NoQualifyingUtterances(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	tests := []struct {
		name string
		utts []diarize.Utterance
	}{
		{"none", nil},
		{"all below minimum", []diarize.Utterance{utt(0, 500), utt(1000, 2500)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "E", tc.utts)
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			if !sel.Empty() {
				t.Errorf("selection should be empty, got %+v", sel.Segments)
			}
			if !sel.LowQuality {
				t.Error("empty selection must be low quality")
			}
			if sel.StitchedPath != "" {
				t.Errorf("empty selection should have no stitched file, got %q", sel.StitchedPath)
			}
		})
	}
}

func TestSelect_ExhaustedCandidatesBelowFloor(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())

	// Only 5.5 s of qualifying audio exists in total.
	sel, err := s.Select(context.Background(), "meeting.wav", t.TempDir(), "F", []diarize.Utterance{
		utt(0, 3000),
		utt(5000, 7500),
		utt(9000, 9800),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(sel.Segments))
	}
	if sel.SpeechMS != 5500 {
		t.Errorf("speech = %d, want 5500", sel.SpeechMS)
	}
	if !sel.LowQuality {
		t.Error("5.5 s of speech should be flagged low quality")
	}
}

func TestSelect_CleansUpIntermediateFiles(t *testing.T) {
	t.Parallel()
	s := newSelector(allSpeech())
	dir := t.TempDir()

	sel, err := s.Select(context.Background(), "meeting.wav", dir, "G", []diarize.Utterance{
		utt(0, 3000),
		utt(5000, 9000),
		utt(12_000, 17_000),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("work dir should hold only the stitched file, got %v", names)
	}
	if sel.StitchedPath == "" {
		t.Fatal("stitched path missing")
	}
}
