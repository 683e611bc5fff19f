// Package mock provides a test double for the speaker.Encoder interface.
//
// Use Encoder in unit tests to feed controlled voiceprint vectors to the
// enrollment and identification paths without loading an ONNX model.
//
// Example:
//
//	enc := &mock.Encoder{Embedding: unitVec(0)}
//	vec, err := enc.Encode(samples)
package mock

import (
	"sync"

	"github.com/MrWong99/voxident/pkg/provider/speaker"
)

// Encoder is a mock implementation of speaker.Encoder.
// Zero values cause Encode to return a nil vector and nil error.
type Encoder struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EncodeFn, if non-nil, computes the vector returned for each call. It
	// takes precedence over Embedding.
	EncodeFn func(samples []float32) []float32

	// Embedding is returned by Encode when EncodeFn is nil.
	Embedding []float32

	// Err, if non-nil, is returned as the error from Encode.
	Err error

	// Dim is returned by Dimensions. When zero, Dimensions falls back to
	// len(Embedding).
	Dim int

	// CloseErr, if non-nil, is returned from Close.
	CloseErr error

	// --- Call records (read after test) ---

	// EncodeCalls records the length of the sample buffer passed to each
	// Encode invocation, in order.
	EncodeCalls []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Encode records the call and returns the configured vector or error.
func (e *Encoder) Encode(samples []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = append(e.EncodeCalls, len(samples))
	if e.Err != nil {
		return nil, e.Err
	}
	if e.EncodeFn != nil {
		return e.EncodeFn(samples), nil
	}
	out := make([]float32, len(e.Embedding))
	copy(out, e.Embedding)
	return out, nil
}

// Dimensions returns Dim, or len(Embedding) when Dim is zero.
func (e *Encoder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Dim > 0 {
		return e.Dim
	}
	return len(e.Embedding)
}

// Close records the call and returns CloseErr.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return e.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = nil
	e.CloseCallCount = 0
}

// Ensure Encoder implements speaker.Encoder at compile time.
var _ speaker.Encoder = (*Encoder)(nil)
