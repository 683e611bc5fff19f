// Package vad defines the Detector interface for voice-activity-detection
// backends and the [Gate] helper built on top of them.
//
// A Detector locates the speech regions inside a complete 16 kHz mono PCM
// buffer. The Gate wraps a Detector with the whole-buffer operations the rest
// of the system needs: stripping silence before voiceprint extraction and
// measuring how much actual speech a recording contains.
//
// Implementations must be safe for concurrent use; a single Detector may be
// shared by the enrollment and identification paths.
package vad

// Span marks a run of speech inside a sample buffer. Start is the inclusive
// index of the first speech sample, End the exclusive index one past the last.
type Span struct {
	Start int
	End   int
}

// Len returns the number of samples covered by the span.
func (s Span) Len() int {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Detector is the abstraction over any voice-activity-detection backend.
//
// DetectSpeech analyses a complete buffer of 16 kHz mono float32 PCM in the
// range [-1, 1] and returns the speech spans it found, ordered by start and
// non-overlapping. An empty result means the buffer contains no detectable
// speech; that is not an error.
type Detector interface {
	DetectSpeech(samples []float32) ([]Span, error)

	// Close releases any model resources held by the detector. Calling Close
	// more than once is safe and returns nil.
	Close() error
}
