// Package speaker defines the Encoder interface for speaker-embedding
// backends.
//
// An Encoder maps a complete spoken utterance (16 kHz mono float32 PCM) to a
// fixed-length voiceprint vector. Vectors from one Encoder instance all share
// the same dimensionality and the same embedding space; callers must not mix
// vectors produced by different models in one similarity computation.
//
// Implementations must be safe for concurrent use.
package speaker

import "errors"

// ErrInsufficientAudio is returned by Encode when the buffer is too short for
// the model to produce a usable embedding. Callers should treat it as a bad
// input, not a backend failure.
var ErrInsufficientAudio = errors.New("speaker: insufficient audio for embedding")

// Encoder is the abstraction over any speaker-embedding backend.
type Encoder interface {
	// Encode computes the voiceprint embedding for one utterance. The buffer
	// should already have leading and trailing silence removed; heavy silence
	// dilutes the voice characteristics the model measures. Returns a vector
	// of length Dimensions, or ErrInsufficientAudio when the buffer is too
	// short to embed.
	Encode(samples []float32) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// encoder. Constant for the lifetime of the instance.
	Dimensions() int

	// Close releases model resources. Calling Close more than once is safe
	// and returns nil.
	Close() error
}
