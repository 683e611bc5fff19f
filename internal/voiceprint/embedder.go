// Package voiceprint manages enrolled speaker voiceprints: extracting
// embeddings from audio, folding new samples into a speaker's stored
// vector, and mirroring the enrolled set to a local JSON file.
package voiceprint

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/pkg/provider/speaker"
	"github.com/MrWong99/voxident/pkg/provider/vad"
)

// minEmbedSpeechMS is the least VAD-retained speech an embedding may be
// computed from. Below this the encoder output is noise.
const minEmbedSpeechMS = 500

// Embedder turns a PCM buffer into a unit-norm voiceprint vector.
// Silence is stripped first so the encoder only sees speech. Stateless
// beyond its dependencies and safe for concurrent use.
type Embedder struct {
	enc  speaker.Encoder
	gate *vad.Gate
}

// NewEmbedder creates an Embedder over the given encoder and VAD gate.
func NewEmbedder(enc speaker.Encoder, gate *vad.Gate) *Embedder {
	return &Embedder{enc: enc, gate: gate}
}

// Dimensions returns the encoder's vector length.
func (e *Embedder) Dimensions() int { return e.enc.Dimensions() }

// Embed computes the voiceprint for samples (16 kHz mono). Fails with
// InvalidInput when less than half a second of speech remains after
// silence removal.
func (e *Embedder) Embed(samples []float32) ([]float32, error) {
	speechMS, err := e.gate.SpeechDurationMS(samples)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: measure speech: %w", err)
	}
	if speechMS < minEmbedSpeechMS {
		return nil, errdefs.E(errdefs.KindInvalidInput,
			"not enough speech for a voiceprint (%dms, need %dms)", speechMS, minEmbedSpeechMS)
	}

	speech, err := e.gate.StripSilence(samples)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: strip silence: %w", err)
	}

	vec, err := e.enc.Encode(speech)
	if err != nil {
		if errors.Is(err, speaker.ErrInsufficientAudio) {
			return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "voiceprint")
		}
		return nil, fmt.Errorf("voiceprint: encode: %w", err)
	}
	return Normalize(vec), nil
}

// Normalize scales v to unit L2 norm in place and returns it. A zero
// vector is returned unchanged; there is no direction to preserve.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
