// Package sherpa provides a speaker.Encoder backed by a sherpa-onnx
// speaker-embedding model (for example a 3D-Speaker or WeSpeaker export).
//
// Usage:
//
//	enc, err := sherpa.New("models/3dspeaker_eres2net.onnx")
//	defer enc.Close()
//	vec, err := enc.Encode(samples)
package sherpa

import (
	"errors"
	"fmt"
	"os"
	"sync"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/MrWong99/voxident/pkg/provider/speaker"
)

const (
	defaultSampleRate = 16000
	defaultNumThreads = 1
	defaultProvider   = "cpu"
)

// Compile-time assertion that Encoder implements speaker.Encoder.
var _ speaker.Encoder = (*Encoder)(nil)

// config holds the construction parameters for an Encoder.
type config struct {
	sampleRate int
	numThreads int
	provider   string
}

// Option is a functional option for configuring an Encoder.
type Option func(*config)

// WithSampleRate sets the sample rate of the buffers passed to Encode.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// WithNumThreads sets the ONNX runtime thread count. Defaults to 1.
func WithNumThreads(n int) Option {
	return func(c *config) {
		c.numThreads = n
	}
}

// WithProvider selects the ONNX execution provider ("cpu", "cuda", "coreml").
// Defaults to "cpu".
func WithProvider(p string) Option {
	return func(c *config) {
		c.provider = p
	}
}

// Encoder implements speaker.Encoder using a sherpa-onnx embedding extractor.
// The native extractor is loaded once; Encode calls are serialized on an
// internal mutex because the extractor's stream API is stateful.
type Encoder struct {
	mu         sync.Mutex
	ex         *sherpaonnx.SpeakerEmbeddingExtractor
	dim        int
	sampleRate int
}

// New loads the speaker-embedding model at modelPath and returns an Encoder
// for it. The model file must exist.
func New(modelPath string, opts ...Option) (*Encoder, error) {
	if modelPath == "" {
		return nil, errors.New("sherpa: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("sherpa: embedding model not found: %w", err)
	}

	cfg := config{
		sampleRate: defaultSampleRate,
		numThreads: defaultNumThreads,
		provider:   defaultProvider,
	}
	for _, o := range opts {
		o(&cfg)
	}

	ex := sherpaonnx.NewSpeakerEmbeddingExtractor(&sherpaonnx.SpeakerEmbeddingExtractorConfig{
		Model:      modelPath,
		NumThreads: cfg.numThreads,
		Debug:      0,
		Provider:   cfg.provider,
	})
	if ex == nil {
		return nil, fmt.Errorf("sherpa: create embedding extractor for %q", modelPath)
	}

	return &Encoder{ex: ex, dim: ex.Dim(), sampleRate: cfg.sampleRate}, nil
}

// Encode implements speaker.Encoder.
func (e *Encoder) Encode(samples []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ex == nil {
		return nil, errors.New("sherpa: encoder is closed")
	}

	stream := e.ex.CreateStream()
	defer sherpaonnx.DeleteOnlineStream(stream)

	stream.AcceptWaveform(e.sampleRate, samples)
	stream.InputFinished()

	if !e.ex.IsReady(stream) {
		return nil, speaker.ErrInsufficientAudio
	}

	vec := e.ex.Compute(stream)
	if len(vec) == 0 {
		return nil, errors.New("sherpa: extractor returned empty embedding")
	}
	return vec, nil
}

// Dimensions implements speaker.Encoder.
func (e *Encoder) Dimensions() int { return e.dim }

// Close implements speaker.Encoder, releasing the native extractor. Calling
// Close more than once is safe and returns nil.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ex != nil {
		sherpaonnx.DeleteSpeakerEmbeddingExtractor(e.ex)
		e.ex = nil
	}
	return nil
}
