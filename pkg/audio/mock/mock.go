// Package mock provides a test double for the audio.Transcoder interface.
//
// Unlike a pure call recorder, the default behaviours produce real WAV
// files so code that reads the results back (segment selection, clip
// building) can run end to end without ffmpeg installed:
//
//   - ToWAV16kMono copies the input file to the output path.
//   - ExtractSegment writes a constant-amplitude WAV of the requested length.
//   - Stitch decodes every input and writes their concatenation.
//   - DurationMS decodes the file and measures it.
//
// Each behaviour can be overridden with the corresponding *Fn field.
package mock

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/voxident/pkg/audio"
)

// Call records one invocation of a Transcoder method.
type Call struct {
	Method string
	Input  string
	Output string
	// StartMS and EndMS are set for ExtractSegment calls.
	StartMS int64
	EndMS   int64
	// Inputs is set for Stitch calls.
	Inputs []string
}

// Transcoder is a mock implementation of audio.Transcoder.
// The zero value is ready to use.
type Transcoder struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Err, if non-nil, is returned from every method.
	Err error

	// ConvertFn, ExtractFn, StitchFn and DurationFn override the default
	// behaviours when non-nil.
	ConvertFn  func(ctx context.Context, inputPath, outputPath string) error
	ExtractFn  func(ctx context.Context, inputPath, outputPath string, startMS, endMS int64) error
	StitchFn   func(ctx context.Context, inputPaths []string, outputPath string) error
	DurationFn func(ctx context.Context, path string) (int64, error)

	// --- Call records (read after test) ---

	Calls []Call
}

var _ audio.Transcoder = (*Transcoder)(nil)

// ToWAV16kMono records the call and copies inputPath to outputPath.
func (t *Transcoder) ToWAV16kMono(ctx context.Context, inputPath, outputPath string) error {
	t.record(Call{Method: "ToWAV16kMono", Input: inputPath, Output: outputPath})
	if t.Err != nil {
		return t.Err
	}
	if t.ConvertFn != nil {
		return t.ConvertFn(ctx, inputPath, outputPath)
	}
	return copyFile(inputPath, outputPath)
}

// ExtractSegment records the call and writes a WAV of (endMS-startMS)
// milliseconds of constant 0.1-amplitude samples.
func (t *Transcoder) ExtractSegment(ctx context.Context, inputPath, outputPath string, startMS, endMS int64) error {
	t.record(Call{Method: "ExtractSegment", Input: inputPath, Output: outputPath, StartMS: startMS, EndMS: endMS})
	if t.Err != nil {
		return t.Err
	}
	if t.ExtractFn != nil {
		return t.ExtractFn(ctx, inputPath, outputPath, startMS, endMS)
	}
	if endMS <= startMS {
		return fmt.Errorf("mock: extract: empty range [%d, %d)", startMS, endMS)
	}
	n := int((endMS - startMS) * audio.SampleRate / 1000)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.WriteWAVFile(outputPath, samples, audio.SampleRate)
}

// Stitch records the call, decodes every input WAV and writes their
// concatenation to outputPath.
func (t *Transcoder) Stitch(ctx context.Context, inputPaths []string, outputPath string) error {
	t.record(Call{Method: "Stitch", Inputs: append([]string(nil), inputPaths...), Output: outputPath})
	if t.Err != nil {
		return t.Err
	}
	if t.StitchFn != nil {
		return t.StitchFn(ctx, inputPaths, outputPath)
	}
	var all []float32
	for _, p := range inputPaths {
		samples, err := audio.ReadWAVFile(p)
		if err != nil {
			return err
		}
		all = append(all, samples...)
	}
	return audio.WriteWAVFile(outputPath, all, audio.SampleRate)
}

// DurationMS records the call and measures the WAV file at path.
func (t *Transcoder) DurationMS(ctx context.Context, path string) (int64, error) {
	t.record(Call{Method: "DurationMS", Input: path})
	if t.Err != nil {
		return 0, t.Err
	}
	if t.DurationFn != nil {
		return t.DurationFn(ctx, path)
	}
	samples, err := audio.ReadWAVFile(path)
	if err != nil {
		return 0, err
	}
	return int64(len(samples)) * 1000 / audio.SampleRate, nil
}

// CallsTo returns the recorded calls for one method, in order.
func (t *Transcoder) CallsTo(method string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (t *Transcoder) record(c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, c)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("mock: open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("mock: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("mock: copy to %s: %w", dst, err)
	}
	return out.Close()
}
