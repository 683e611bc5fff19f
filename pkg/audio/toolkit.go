// Package audio provides batch audio handling for the identification
// pipeline: transcoding, slicing and stitching through ffmpeg, duration
// probing through ffprobe, and a small RIFF/WAV PCM codec for moving
// samples in and out of the inference models.
//
// Everything downstream of the transcoder operates on 16 kHz mono
// 16-bit PCM. The Transcoder normalizes arbitrary uploads into that
// shape once, and all later slicing keeps it.
//
// Usage:
//
//	tk, err := audio.NewToolkit()
//	if err != nil {
//		return err
//	}
//	if err := tk.ToWAV16kMono(ctx, "upload.webm", "meeting.wav"); err != nil {
//		return err
//	}
//	samples, err := audio.ReadWAVFile("meeting.wav")
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// SampleRate is the canonical processing rate in Hz. Every WAV file the
// toolkit produces, and every sample slice handed to the VAD or the
// speaker encoder, uses this rate.
const SampleRate = 16000

// ErrNoAudio reports that ffmpeg could not find or decode an audio
// stream in the input. Uploads that trip this are caller errors, not
// pipeline failures.
var ErrNoAudio = errors.New("audio: input contains no decodable audio")

// Transcoder converts, slices and probes audio files on disk.
type Transcoder interface {
	// ToWAV16kMono re-encodes the input file into 16 kHz mono 16-bit
	// PCM WAV at outputPath, overwriting any existing file.
	ToWAV16kMono(ctx context.Context, inputPath, outputPath string) error

	// ExtractSegment writes the [startMS, endMS) slice of the input
	// file to outputPath as 16 kHz mono WAV.
	ExtractSegment(ctx context.Context, inputPath, outputPath string, startMS, endMS int64) error

	// Stitch concatenates the input files in order into a single
	// 16 kHz mono WAV at outputPath.
	Stitch(ctx context.Context, inputPaths []string, outputPath string) error

	// DurationMS reports the duration of the file in milliseconds.
	DurationMS(ctx context.Context, path string) (int64, error)
}

// Toolkit is the ffmpeg-backed Transcoder. Both binaries are resolved
// once at construction so a missing install fails at startup rather
// than mid-request.
type Toolkit struct {
	ffmpegPath  string
	ffprobePath string
}

var _ Transcoder = (*Toolkit)(nil)

// NewToolkit locates ffmpeg and ffprobe on PATH.
func NewToolkit() (*Toolkit, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("audio: ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("audio: ffprobe not found in PATH: %w", err)
	}
	return &Toolkit{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// ToWAV16kMono re-encodes inputPath into the canonical processing
// format. ffmpeg auto-detects the container, so browser uploads
// (webm, ogg, mp4, m4a, plain wav) all take the same path.
func (t *Toolkit) ToWAV16kMono(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-i", inputPath,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	}
	if err := t.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("audio: convert %s: %w", filepath.Base(inputPath), err)
	}
	return nil
}

// ExtractSegment cuts [startMS, endMS) out of inputPath. The seek is
// placed after -i for sample accuracy; the inputs here are WAV files
// the toolkit produced itself, so decode cost is trivial.
func (t *Toolkit) ExtractSegment(ctx context.Context, inputPath, outputPath string, startMS, endMS int64) error {
	if endMS <= startMS {
		return fmt.Errorf("audio: extract %s: empty range [%d, %d)", filepath.Base(inputPath), startMS, endMS)
	}
	args := []string{
		"-i", inputPath,
		"-ss", formatSeconds(startMS),
		"-t", formatSeconds(endMS - startMS),
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	}
	if err := t.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("audio: extract %s [%d, %d)ms: %w", filepath.Base(inputPath), startMS, endMS, err)
	}
	return nil
}

// Stitch concatenates inputPaths in order using the concat demuxer.
// The demuxer needs a list file; it is created next to the output and
// removed when done.
func (t *Toolkit) Stitch(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return errors.New("audio: stitch: no input files")
	}
	listFile, err := writeConcatList(filepath.Dir(outputPath), inputPaths)
	if err != nil {
		return fmt.Errorf("audio: stitch: %w", err)
	}
	defer os.Remove(listFile)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	}
	if err := t.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("audio: stitch %d files: %w", len(inputPaths), err)
	}
	return nil
}

// DurationMS probes the container duration. Fractional milliseconds
// are rounded to nearest.
func (t *Toolkit) DurationMS(ctx context.Context, path string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	}
	out, err := exec.CommandContext(ctx, t.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("audio: probe %s: %w", filepath.Base(path), err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("audio: probe %s: parse duration %q: %w", filepath.Base(path), strings.TrimSpace(string(out)), err)
	}
	return int64(seconds*1000 + 0.5), nil
}

func (t *Toolkit) runFFmpeg(ctx context.Context, args []string) error {
	out, err := exec.CommandContext(ctx, t.ffmpegPath, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if isNoAudioOutput(string(out)) {
		return fmt.Errorf("%w: %s", ErrNoAudio, tailLines(string(out), 3))
	}
	return fmt.Errorf("ffmpeg: %w: %s", err, tailLines(string(out), 3))
}

// isNoAudioOutput recognizes the ffmpeg stderr lines produced when the
// input has no usable audio, so those failures can surface as caller
// errors instead of internal ones.
func isNoAudioOutput(out string) bool {
	return strings.Contains(out, "does not contain any stream") ||
		strings.Contains(out, "Invalid data found when processing input") ||
		strings.Contains(out, "Stream map '0:a' matches no streams")
}

// tailLines keeps the last n non-empty lines of ffmpeg output. The
// interesting line is virtually always the final one.
func tailLines(out string, n int) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append(kept, line)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, " | ")
}

// formatSeconds renders a millisecond count as fractional seconds for
// ffmpeg's -ss and -t flags.
func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', 3, 64)
}

// writeConcatList renders the concat demuxer list file. Single quotes
// inside paths use the demuxer's '\'' escape.
func writeConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create list file: %w", err)
	}
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write list file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close list file: %w", err)
	}
	return f.Name(), nil
}
