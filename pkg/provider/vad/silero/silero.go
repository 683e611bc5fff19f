// Package silero provides a vad.Detector backed by the standalone
// silero-vad-go bindings. Unlike the sherpa-backed detector it keeps a single
// native detector alive for its whole lifetime and serializes access to it,
// resetting the internal state between calls.
package silero

import (
	"errors"
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/voxident/pkg/provider/vad"
)

const (
	// windowSize is the silero analysis window at 16 kHz. Buffers shorter
	// than one window contain no classifiable audio.
	windowSize = 512

	defaultThreshold    = 0.5
	defaultMinSilenceMS = 100
	defaultSpeechPadMS  = 30
	defaultSampleRate   = 16000
)

// Compile-time assertion that Detector implements vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// config holds the construction parameters for a Detector.
type config struct {
	threshold    float32
	minSilenceMS int
	speechPadMS  int
	sampleRate   int
}

// Option is a functional option for configuring a Detector.
type Option func(*config)

// WithThreshold sets the speech probability threshold in [0, 1]. Defaults to 0.5.
func WithThreshold(threshold float32) Option {
	return func(c *config) {
		c.threshold = threshold
	}
}

// WithMinSilenceDurationMS sets how much consecutive silence (in
// milliseconds) ends an active speech span. Defaults to 100 ms.
func WithMinSilenceDurationMS(ms int) Option {
	return func(c *config) {
		c.minSilenceMS = ms
	}
}

// WithSpeechPadMS sets the padding (in milliseconds) added around each
// detected span so consonant onsets are not clipped. Defaults to 30 ms.
func WithSpeechPadMS(ms int) Option {
	return func(c *config) {
		c.speechPadMS = ms
	}
}

// WithSampleRate sets the sample rate of the buffers passed to DetectSpeech.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// Detector implements vad.Detector using silero-vad-go. All calls are
// serialized on an internal mutex because the native detector is stateful.
type Detector struct {
	mu         sync.Mutex
	det        *speech.Detector
	sampleRate int
}

// New creates a Detector for the silero VAD model at modelPath. The native
// model is loaded once and reused for every DetectSpeech call.
func New(modelPath string, opts ...Option) (*Detector, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	cfg := config{
		threshold:    defaultThreshold,
		minSilenceMS: defaultMinSilenceMS,
		speechPadMS:  defaultSpeechPadMS,
		sampleRate:   defaultSampleRate,
	}
	for _, o := range opts {
		o(&cfg)
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           cfg.sampleRate,
		Threshold:            cfg.threshold,
		MinSilenceDurationMs: cfg.minSilenceMS,
		SpeechPadMs:          cfg.speechPadMS,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &Detector{det: sd, sampleRate: cfg.sampleRate}, nil
}

// DetectSpeech implements vad.Detector.
func (d *Detector) DetectSpeech(samples []float32) ([]vad.Span, error) {
	if len(samples) < windowSize {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.det == nil {
		return nil, errors.New("silero: detector is closed")
	}

	segs, err := d.det.Detect(samples)
	if err != nil {
		_ = d.det.Reset()
		return nil, fmt.Errorf("silero: detect speech: %w", err)
	}
	if err := d.det.Reset(); err != nil {
		return nil, fmt.Errorf("silero: reset detector: %w", err)
	}

	spans := make([]vad.Span, 0, len(segs))
	for _, seg := range segs {
		start := int(seg.SpeechStartAt * float64(d.sampleRate))
		end := int(seg.SpeechEndAt * float64(d.sampleRate))
		// An end of 0 marks a span still open when the buffer ran out.
		if end <= 0 || end > len(samples) {
			end = len(samples)
		}
		if start < 0 {
			start = 0
		}
		if start >= end {
			continue
		}
		spans = append(spans, vad.Span{Start: start, End: end})
	}
	return spans, nil
}

// Close implements vad.Detector, releasing the native model. Calling Close
// more than once is safe and returns nil.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.det == nil {
		return nil
	}
	err := d.det.Destroy()
	d.det = nil
	if err != nil {
		return fmt.Errorf("silero: destroy detector: %w", err)
	}
	return nil
}
