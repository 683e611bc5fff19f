// Package mock provides a test double for the vad.Detector interface.
//
// Use Detector in unit tests to feed controlled speech spans to the
// vad.Gate (and everything built on it) without loading an ONNX model.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	d := &mock.Detector{Spans: []vad.Span{{Start: 0, End: 16000}}}
//	gate := vad.NewGate(d, 16000)
package mock

import (
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/vad"
)

// Detector is a mock implementation of vad.Detector.
// Zero values cause DetectSpeech to report no speech and nil errors.
type Detector struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SpansFn, if non-nil, computes the spans returned for each call. It takes
	// precedence over Spans.
	SpansFn func(samples []float32) []vad.Span

	// Spans is returned by DetectSpeech when SpansFn is nil.
	Spans []vad.Span

	// Err, if non-nil, is returned as the error from DetectSpeech.
	Err error

	// CloseErr, if non-nil, is returned from Close.
	CloseErr error

	// --- Call records (read after test) ---

	// DetectCalls records the length of the sample buffer passed to each
	// DetectSpeech invocation, in order.
	DetectCalls []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// DetectSpeech records the call and returns the configured spans or error.
func (d *Detector) DetectSpeech(samples []float32) ([]vad.Span, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = append(d.DetectCalls, len(samples))
	if d.Err != nil {
		return nil, d.Err
	}
	if d.SpansFn != nil {
		return d.SpansFn(samples), nil
	}
	out := make([]vad.Span, len(d.Spans))
	copy(out, d.Spans)
	return out, nil
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
	d.CloseCallCount = 0
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
