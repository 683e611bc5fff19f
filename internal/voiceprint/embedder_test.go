package voiceprint

import (
	"math"
	"testing"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/pkg/provider/speaker"
	speakermock "github.com/MrWong99/voxident/pkg/provider/speaker/mock"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxident/pkg/provider/vad/mock"
)

// gateWithFraction marks the first fraction of every buffer as speech.
func gateWithFraction(fraction float64) *vad.Gate {
	det := &vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		n := int(float64(len(samples)) * fraction)
		if n == 0 {
			return nil
		}
		return []vad.Span{{Start: 0, End: n}}
	}}
	return vad.NewGate(det, 16000)
}

func seconds(s float64) []float32 {
	return make([]float32, int(s*16000))
}

func TestEmbed_NormalizesEncoderOutput(t *testing.T) {
	t.Parallel()
	enc := &speakermock.Encoder{Embedding: []float32{3, 4, 0}}
	e := NewEmbedder(enc, gateWithFraction(1))

	vec, err := e.Embed(seconds(2))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	want := []float32{0.6, 0.8, 0}
	for i := range want {
		if math.Abs(float64(vec[i]-want[i])) > 1e-6 {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestEmbed_StripsSilenceBeforeEncoding(t *testing.T) {
	t.Parallel()
	enc := &speakermock.Encoder{Embedding: []float32{1, 0}}
	e := NewEmbedder(enc, gateWithFraction(0.5))

	if _, err := e.Embed(seconds(4)); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(enc.EncodeCalls) != 1 {
		t.Fatalf("encoder called %d times, want 1", len(enc.EncodeCalls))
	}
	if got, want := enc.EncodeCalls[0], len(seconds(2)); got != want {
		t.Errorf("encoder saw %d samples, want the stripped %d", got, want)
	}
}

func TestEmbed_TooLittleSpeech(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		fraction float64
		input    []float32
	}{
		{"no speech at all", 0, seconds(3)},
		{"under half a second", 0.1, seconds(4)}, // 400 ms of speech
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := NewEmbedder(&speakermock.Encoder{Embedding: []float32{1, 0}}, gateWithFraction(tc.fraction))
			_, err := e.Embed(tc.input)
			if errdefs.KindOf(err) != errdefs.KindInvalidInput {
				t.Errorf("kind = %v, want invalid_input (err: %v)", errdefs.KindOf(err), err)
			}
		})
	}
}

func TestEmbed_EncoderInsufficientAudio(t *testing.T) {
	t.Parallel()
	enc := &speakermock.Encoder{Err: speaker.ErrInsufficientAudio}
	e := NewEmbedder(enc, gateWithFraction(1))

	_, err := e.Embed(seconds(2))
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Errorf("kind = %v, want invalid_input (err: %v)", errdefs.KindOf(err), err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	v := Normalize([]float32{2, 0, 0})
	if v[0] != 1 || v[1] != 0 {
		t.Errorf("normalize = %v, want unit x-axis", v)
	}

	var norm float64
	for _, x := range Normalize([]float32{0.3, -1.2, 4.5, 0.01}) {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm² = %v, want 1", norm)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}
