// Package sherpa provides a vad.Detector backed by the silero VAD model
// running on the sherpa-onnx runtime.
//
// Each DetectSpeech call builds a fresh native detector, feeds the buffer
// through it window by window and tears it down again. That keeps every call
// fully isolated: the native object is stateful and offers no reliable way to
// rewind it between unrelated recordings. Model files are small and load
// quickly, so per-call construction is an acceptable trade for correctness.
//
// Usage:
//
//	det, err := sherpa.New("models/silero_vad.onnx",
//	    sherpa.WithThreshold(0.5),
//	    sherpa.WithMinSilenceDurationMS(100),
//	)
//	spans, err := det.DetectSpeech(samples)
package sherpa

import (
	"errors"
	"fmt"
	"os"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/MrWong99/voxident/pkg/provider/vad"
)

const (
	// windowSize is the fixed silero analysis window in samples. The model is
	// trained on 512-sample windows at 16 kHz and rejects other sizes.
	windowSize = 512

	defaultThreshold         = 0.5
	defaultMinSilenceMS      = 100
	defaultMinSpeechMS       = 250
	defaultSampleRate        = 16000
	defaultNumThreads        = 1
	defaultBufferSizeSeconds = 30
)

// Compile-time assertion that Detector implements vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithThreshold sets the speech probability threshold in [0, 1] above which
// a window counts as speech. Defaults to 0.5.
func WithThreshold(threshold float32) Option {
	return func(d *Detector) {
		d.threshold = threshold
	}
}

// WithMinSilenceDurationMS sets how much consecutive silence (in
// milliseconds) ends an active speech span. Defaults to 100 ms.
func WithMinSilenceDurationMS(ms int) Option {
	return func(d *Detector) {
		d.minSilenceMS = ms
	}
}

// WithMinSpeechDurationMS sets the minimum length (in milliseconds) a run of
// speech windows must reach before it is reported at all. Defaults to 250 ms.
func WithMinSpeechDurationMS(ms int) Option {
	return func(d *Detector) {
		d.minSpeechMS = ms
	}
}

// WithSampleRate sets the sample rate of the buffers passed to DetectSpeech.
// Defaults to 16000, the only rate the bundled silero models are trained on.
func WithSampleRate(rate int) Option {
	return func(d *Detector) {
		d.sampleRate = rate
	}
}

// WithNumThreads sets the ONNX runtime thread count per call. Defaults to 1.
func WithNumThreads(n int) Option {
	return func(d *Detector) {
		d.numThreads = n
	}
}

// Detector implements vad.Detector using sherpa-onnx. It is safe for
// concurrent use: every call operates on its own native detector.
type Detector struct {
	modelPath    string
	threshold    float32
	minSilenceMS int
	minSpeechMS  int
	sampleRate   int
	numThreads   int
}

// New creates a Detector for the silero VAD model at modelPath. The file must
// exist; functional options may override the detection defaults.
func New(modelPath string, opts ...Option) (*Detector, error) {
	if modelPath == "" {
		return nil, errors.New("sherpa: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("sherpa: vad model not found: %w", err)
	}
	d := &Detector{
		modelPath:    modelPath,
		threshold:    defaultThreshold,
		minSilenceMS: defaultMinSilenceMS,
		minSpeechMS:  defaultMinSpeechMS,
		sampleRate:   defaultSampleRate,
		numThreads:   defaultNumThreads,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// DetectSpeech implements vad.Detector.
func (d *Detector) DetectSpeech(samples []float32) ([]vad.Span, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	cfg := sherpaonnx.VadModelConfig{
		SileroVad: sherpaonnx.SileroVadModelConfig{
			Model:              d.modelPath,
			Threshold:          d.threshold,
			MinSilenceDuration: float32(d.minSilenceMS) / 1000,
			MinSpeechDuration:  float32(d.minSpeechMS) / 1000,
			WindowSize:         windowSize,
		},
		SampleRate: d.sampleRate,
		NumThreads: d.numThreads,
		Debug:      0,
	}

	v := sherpaonnx.NewVoiceActivityDetector(&cfg, defaultBufferSizeSeconds)
	if v == nil {
		return nil, errors.New("sherpa: create voice activity detector")
	}
	defer sherpaonnx.DeleteVoiceActivityDetector(v)

	var spans []vad.Span
	for off := 0; off < len(samples); off += windowSize {
		end := off + windowSize
		if end > len(samples) {
			end = len(samples)
		}
		v.AcceptWaveform(samples[off:end])
		spans = drain(v, spans)
	}
	v.Flush()
	spans = drain(v, spans)

	return spans, nil
}

// Close implements vad.Detector. The detector holds no persistent native
// resources, so Close is a no-op.
func (d *Detector) Close() error { return nil }

// drain pops every completed speech segment off the native detector and
// appends it as a span of sample indices.
func drain(v *sherpaonnx.VoiceActivityDetector, spans []vad.Span) []vad.Span {
	for !v.IsEmpty() {
		seg := v.Front()
		v.Pop()
		spans = append(spans, vad.Span{
			Start: seg.Start,
			End:   seg.Start + len(seg.Samples),
		})
	}
	return spans
}
