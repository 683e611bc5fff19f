// Package diarize defines the Provider interface for diarized
// transcription backends.
//
// A diarize provider accepts a complete audio file and returns its
// utterances with provider-local speaker labels ("A", "B", ...). Labels
// are opaque: they identify a voice consistently within one transcript
// and mean nothing across transcripts.
//
// Implementations must be safe for concurrent use and must respect
// context cancellation; transcription calls are long-running and the
// caller enforces the overall deadline through ctx.
package diarize

import "context"

// Utterance is one diarized speech turn.
type Utterance struct {
	// Speaker is the provider-local label for the voice ("A", "B", ...).
	Speaker string

	// Text is the transcribed content of the turn.
	Text string

	// StartMS and EndMS bound the turn in milliseconds from the start of
	// the recording, EndMS exclusive and strictly greater than StartMS.
	StartMS int64
	EndMS   int64
}

// Result is a complete diarized transcript.
type Result struct {
	// Utterances in ascending StartMS order. Empty when the recording
	// contains no detectable speech; that is not an error.
	Utterances []Utterance

	// Language is the detected (or requested) BCP-47 language code.
	Language string

	// AudioDurationMS is the provider-reported length of the recording.
	AudioDurationMS int64
}

// Provider is the abstraction over any diarized transcription backend.
type Provider interface {
	// Transcribe uploads the audio file at path and returns its diarized
	// transcript. Blocks until the transcript is ready or ctx expires.
	Transcribe(ctx context.Context, path string) (*Result, error)
}
