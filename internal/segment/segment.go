// Package segment assembles the per-speaker audio sample used for
// identification.
//
// A meeting gives each diarized speaker many utterances of wildly varying
// length and quality. The selector picks the subset whose actual speech
// content (measured post-VAD, not by wall-clock span) best supports
// embedding extraction, bounded by a per-speaker segment budget, and
// stitches it into a single WAV.
package segment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MrWong99/voxident/pkg/audio"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
	"github.com/MrWong99/voxident/pkg/provider/vad"
)

// Span is one [Start, End) slice of the meeting audio, in milliseconds.
type Span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// DurationMS returns the span length. Never negative.
func (s Span) DurationMS() int64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Params bounds the selection. See [DefaultParams] for the canonical
// values.
type Params struct {
	// TargetSpeechMS is the accumulated post-VAD speech the selector
	// tries to reach. A single utterance at least this long short-circuits
	// accumulation entirely.
	TargetSpeechMS int64

	// MaxSingleMS clips the single-utterance fast path.
	MaxSingleMS int64

	// MinUtteranceMS gates which utterances may be admitted at all.
	MinUtteranceMS int64

	// MaxCount bounds how many utterances one stitched sample may use.
	MaxCount int

	// MinIdentificationMS is the speech floor below which the final
	// sample is flagged low quality.
	MinIdentificationMS int64
}

// DefaultParams returns the canonical selection bounds.
func DefaultParams() Params {
	return Params{
		TargetSpeechMS:      10_000,
		MaxSingleMS:         20_000,
		MinUtteranceMS:      2_000,
		MaxCount:            5,
		MinIdentificationMS: 8_000,
	}
}

// Selection is the outcome for one diarized speaker.
type Selection struct {
	// Segments are the chosen source spans in temporal order. Empty when
	// no utterance passed the minimum-length gate.
	Segments []Span

	// StitchedPath is the stitched 16 kHz mono WAV, or "" for an empty
	// selection. The caller owns the file.
	StitchedPath string

	// SpeechMS is the post-VAD speech duration of the stitched sample.
	SpeechMS int64

	// LowQuality is true when SpeechMS < MinIdentificationMS.
	LowQuality bool

	// LongestUtteranceMS is the duration of the speaker's single longest
	// utterance, regardless of what was selected.
	LongestUtteranceMS int64
}

// Empty reports whether the selection contains no usable audio.
func (s *Selection) Empty() bool { return len(s.Segments) == 0 }

// Selector builds per-speaker stitched samples. Safe for concurrent use;
// each Select call works on its own files. Bounds may be swapped at
// runtime with [Selector.SetParams].
type Selector struct {
	tk   audio.Transcoder
	gate *vad.Gate

	mu     sync.RWMutex
	params Params
}

// NewSelector creates a Selector using the given transcoder and VAD gate.
func NewSelector(tk audio.Transcoder, gate *vad.Gate, params Params) *Selector {
	return &Selector{tk: tk, gate: gate, params: params}
}

// SetParams replaces the selection bounds. In-flight Select calls keep
// the snapshot they started with.
func (s *Selector) SetParams(p Params) {
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
}

func (s *Selector) snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Select picks and stitches the identification sample for one speaker.
//
// sourceWAV is the converted meeting audio, workDir a directory for
// intermediate and output files, label the provider's speaker label, and
// utts the speaker's utterances. An empty selection (no qualifying
// utterances) is not an error; the caller assigns a placeholder result.
func (s *Selector) Select(ctx context.Context, sourceWAV, workDir, label string, utts []diarize.Utterance) (*Selection, error) {
	params := s.snapshot()
	sel := &Selection{LowQuality: true}
	if len(utts) == 0 {
		return sel, nil
	}

	longest := utts[0]
	for _, u := range utts[1:] {
		if u.EndMS-u.StartMS > longest.EndMS-longest.StartMS {
			longest = u
		}
	}
	sel.LongestUtteranceMS = longest.EndMS - longest.StartMS

	// Fast path: one utterance already carries the whole speech target.
	if sel.LongestUtteranceMS >= params.TargetSpeechMS {
		span := Span{Start: longest.StartMS, End: longest.EndMS}
		if span.DurationMS() > params.MaxSingleMS {
			span.End = span.Start + params.MaxSingleMS
		}
		return s.finish(ctx, params, sel, sourceWAV, workDir, label, []Span{span})
	}

	// Accumulate utterances in descending duration order until the speech
	// target is met, the segment budget is spent, or candidates run out.
	candidates := make([]diarize.Utterance, len(utts))
	copy(candidates, utts)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].EndMS-candidates[i].StartMS > candidates[j].EndMS-candidates[j].StartMS
	})

	var (
		chosen    []Span
		accumMS   int64
		tempFiles []string
	)
	defer func() { removeAll(tempFiles) }()

	for i, u := range candidates {
		if u.EndMS-u.StartMS < params.MinUtteranceMS {
			break // sorted descending, nothing later qualifies either
		}
		span := Span{Start: u.StartMS, End: u.EndMS}
		piece := filepath.Join(workDir, fmt.Sprintf("spk%s_cand%02d.wav", label, i))
		if err := s.tk.ExtractSegment(ctx, sourceWAV, piece, span.Start, span.End); err != nil {
			return nil, fmt.Errorf("segment: extract candidate for %s: %w", label, err)
		}
		tempFiles = append(tempFiles, piece)

		speech, err := s.measureSpeech(piece)
		if err != nil {
			return nil, fmt.Errorf("segment: measure candidate for %s: %w", label, err)
		}

		chosen = append(chosen, span)
		accumMS += speech
		if accumMS >= params.TargetSpeechMS || len(chosen) == params.MaxCount {
			break
		}
	}

	if len(chosen) == 0 {
		return sel, nil
	}

	// Restore temporal order so the stitched audio plays naturally.
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })
	return s.finish(ctx, params, sel, sourceWAV, workDir, label, chosen)
}

// finish extracts the chosen spans in temporal order, stitches them, and
// measures the final sample.
func (s *Selector) finish(ctx context.Context, params Params, sel *Selection, sourceWAV, workDir, label string, spans []Span) (*Selection, error) {
	var pieces []string
	defer func() { removeAll(pieces) }()

	for i, span := range spans {
		piece := filepath.Join(workDir, fmt.Sprintf("spk%s_part%02d.wav", label, i))
		if err := s.tk.ExtractSegment(ctx, sourceWAV, piece, span.Start, span.End); err != nil {
			return nil, fmt.Errorf("segment: extract part for %s: %w", label, err)
		}
		pieces = append(pieces, piece)
	}

	out := filepath.Join(workDir, fmt.Sprintf("spk%s_stitched.wav", label))
	if err := s.tk.Stitch(ctx, pieces, out); err != nil {
		return nil, fmt.Errorf("segment: stitch for %s: %w", label, err)
	}

	speech, err := s.measureSpeech(out)
	if err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("segment: measure stitched sample for %s: %w", label, err)
	}

	sel.Segments = spans
	sel.StitchedPath = out
	sel.SpeechMS = speech
	sel.LowQuality = speech < params.MinIdentificationMS
	return sel, nil
}

// measureSpeech loads a WAV file and returns its post-VAD speech duration.
func (s *Selector) measureSpeech(path string) (int64, error) {
	samples, err := audio.ReadWAVFile(path)
	if err != nil {
		return 0, err
	}
	return s.gate.SpeechDurationMS(samples)
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
