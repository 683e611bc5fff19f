// Package clip builds short playback samples of one meeting speaker so
// a user can listen before confirming or naming them.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/pkg/audio"
	"github.com/MrWong99/voxident/pkg/provider/vad"
)

// defaultMaxMS caps clip length; a few seconds is enough to recognize a
// voice.
const defaultMaxMS = 5000

// Builder cuts per-speaker clips from a session's stored meeting audio.
type Builder struct {
	tk    audio.Transcoder
	gate  *vad.Gate
	maxMS int64
}

// NewBuilder creates a Builder. maxMS ≤ 0 uses the 5-second default.
func NewBuilder(tk audio.Transcoder, gate *vad.Gate, maxMS int64) *Builder {
	if maxMS <= 0 {
		maxMS = defaultMaxMS
	}
	return &Builder{tk: tk, gate: gate, maxMS: maxMS}
}

// Build stitches the label's identification segments from the session
// audio, strips silence and truncates the result. Returns the path of
// the finished WAV; the caller serves it and removes it afterwards.
//
// The clip is named <meeting_id>_<label>_clip.wav next to the session
// audio, so session deletion reclaims any clip a caller left behind.
func (b *Builder) Build(ctx context.Context, sess *session.Session, label string) (string, error) {
	segments := sess.SpeakerSegments[label]
	if len(segments) == 0 {
		return "", errdefs.E(errdefs.KindNotFound, "no audio segments for this speaker")
	}
	if _, err := os.Stat(sess.AudioPath); errors.Is(err, fs.ErrNotExist) {
		return "", errdefs.E(errdefs.KindNotFound, "audio file no longer available")
	}

	dir := filepath.Dir(sess.AudioPath)
	var pieces []string
	defer func() {
		for _, p := range pieces {
			os.Remove(p)
		}
	}()

	for i, span := range segments {
		piece := filepath.Join(dir, fmt.Sprintf("%s_%s_clippart%02d.wav", sess.MeetingID, label, i))
		if err := b.tk.ExtractSegment(ctx, sess.AudioPath, piece, span.Start, span.End); err != nil {
			return "", fmt.Errorf("clip: extract segment: %w", err)
		}
		pieces = append(pieces, piece)
	}

	stitched := filepath.Join(dir, fmt.Sprintf("%s_%s_clipraw.wav", sess.MeetingID, label))
	if err := b.tk.Stitch(ctx, pieces, stitched); err != nil {
		return "", fmt.Errorf("clip: stitch segments: %w", err)
	}
	defer os.Remove(stitched)

	samples, err := audio.ReadWAVFile(stitched)
	if err != nil {
		return "", fmt.Errorf("clip: read stitched audio: %w", err)
	}
	speech, err := b.gate.StripSilence(samples)
	if err != nil {
		return "", fmt.Errorf("clip: strip silence: %w", err)
	}

	maxSamples := int(b.maxMS * int64(b.gate.SampleRate()) / 1000)
	if len(speech) > maxSamples {
		speech = speech[:maxSamples]
	}

	out := filepath.Join(dir, fmt.Sprintf("%s_%s_clip.wav", sess.MeetingID, label))
	if err := audio.WriteWAVFile(out, speech, b.gate.SampleRate()); err != nil {
		return "", fmt.Errorf("clip: write clip: %w", err)
	}
	return out, nil
}
