package vad

import "sort"

// Gate applies a [Detector] to whole recordings. It owns the two operations
// every caller actually wants: remove the silence from a buffer, or measure
// how many milliseconds of real speech it contains.
//
// A Gate is stateless beyond its Detector and is safe for concurrent use
// whenever the underlying Detector is.
type Gate struct {
	det        Detector
	sampleRate int
}

// NewGate wraps det for buffers recorded at sampleRate Hz. A non-positive
// sampleRate falls back to 16000.
func NewGate(det Detector, sampleRate int) *Gate {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Gate{det: det, sampleRate: sampleRate}
}

// SampleRate returns the sample rate the gate assumes for duration math.
func (g *Gate) SampleRate() int { return g.sampleRate }

// Spans returns the normalized speech spans of samples: clamped to the buffer
// bounds, sorted by start, with overlapping or touching spans merged.
func (g *Gate) Spans(samples []float32) ([]Span, error) {
	raw, err := g.det.DetectSpeech(samples)
	if err != nil {
		return nil, err
	}
	return normalizeSpans(raw, len(samples)), nil
}

// StripSilence returns the concatenation of all speech spans in samples, in
// temporal order. The result is never longer than the input. When no speech
// is detected at all the input is returned unchanged, so downstream code
// always has something to work with.
func (g *Gate) StripSilence(samples []float32) ([]float32, error) {
	spans, err := g.Spans(samples)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return samples, nil
	}
	total := 0
	for _, s := range spans {
		total += s.Len()
	}
	out := make([]float32, 0, total)
	for _, s := range spans {
		out = append(out, samples[s.Start:s.End]...)
	}
	return out, nil
}

// SpeechDurationMS returns the total duration of detected speech in samples,
// in milliseconds. Silence contributes nothing, so the result is additive
// over concatenated buffers and never exceeds the buffer duration. A buffer
// with no detected speech measures 0 even though StripSilence would return
// it unchanged.
func (g *Gate) SpeechDurationMS(samples []float32) (int64, error) {
	spans, err := g.Spans(samples)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, s := range spans {
		n += int64(s.Len())
	}
	return n * 1000 / int64(g.sampleRate), nil
}

// normalizeSpans clamps spans to [0, n), drops empty ones, sorts by start and
// merges overlapping or adjacent spans into a single run.
func normalizeSpans(spans []Span, n int) []Span {
	clamped := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > n {
			s.End = n
		}
		if s.Len() == 0 {
			continue
		}
		clamped = append(clamped, s)
	}
	sort.Slice(clamped, func(i, j int) bool { return clamped[i].Start < clamped[j].Start })

	var merged []Span
	for _, s := range clamped {
		if len(merged) > 0 && s.Start <= merged[len(merged)-1].End {
			if s.End > merged[len(merged)-1].End {
				merged[len(merged)-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
