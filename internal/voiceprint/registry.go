package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/pkg/audio"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// Config holds the enrollment gates and update-rule parameters.
type Config struct {
	// MinRawMS is the minimum raw recording length for direct enrollment.
	MinRawMS int64

	// MinSpeechMS is the minimum VAD-detected speech after conversion.
	MinSpeechMS int64

	// EMAAlpha is the exponential-moving-average weight for new samples
	// once a speaker has a stable baseline.
	EMAAlpha float64

	// EMAMinSamples is the sample count up to which new samples are
	// folded in by weighted mean instead of EMA.
	EMAMinSamples int

	// DefaultWeight is the sample weight for direct enrollments.
	DefaultWeight int
}

// DefaultConfig returns the canonical enrollment parameters.
func DefaultConfig() Config {
	return Config{
		MinRawMS:      5000,
		MinSpeechMS:   3000,
		EMAAlpha:      0.3,
		EMAMinSamples: 4,
		DefaultWeight: 2,
	}
}

// speechAdvisoryMS: below this much detected speech an enrollment
// succeeds but carries a quality warning.
const speechAdvisoryMS = 5000

// EnrollResult reports a completed enrollment.
type EnrollResult struct {
	Name        string
	SampleCount int

	// Warning is a non-fatal quality or naming advisory, empty when the
	// enrollment was unremarkable.
	Warning string
}

// Registry owns the read-modify-write cycle on stored voiceprints.
//
// Updates are serialized per name: concurrent enrollments of different
// speakers proceed in parallel, concurrent updates of the same speaker
// queue up so no sample is lost to a racing read.
type Registry struct {
	store    vectorstore.Store
	embedder *Embedder
	tk       audio.Transcoder
	gate     *vad.Gate
	mirror   *Mirror

	cfgMu sync.RWMutex
	cfg   Config

	mu    sync.Mutex
	names map[string]*sync.Mutex
}

// NewRegistry creates a Registry.
func NewRegistry(store vectorstore.Store, embedder *Embedder, tk audio.Transcoder, gate *vad.Gate, mirror *Mirror, cfg Config) *Registry {
	return &Registry{
		store:    store,
		embedder: embedder,
		tk:       tk,
		gate:     gate,
		mirror:   mirror,
		cfg:      cfg,
		names:    make(map[string]*sync.Mutex),
	}
}

// SetConfig replaces the enrollment tunables. In-flight enrollments keep
// the snapshot they started with.
func (r *Registry) SetConfig(cfg Config) {
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
}

func (r *Registry) config() Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

// Enroll registers (or reinforces) a speaker from an uploaded recording.
//
// The recording must be at least MinRawMS long and contain at least
// MinSpeechMS of detected speech after conversion to 16 kHz mono. weight
// ≤ 0 uses the configured default.
func (r *Registry) Enroll(ctx context.Context, name, audioPath string, weight int) (*EnrollResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errdefs.E(errdefs.KindInvalidInput, "speaker name is required")
	}
	cfg := r.config()
	if weight <= 0 {
		weight = cfg.DefaultWeight
	}

	rawMS, err := r.tk.DurationMS(ctx, audioPath)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "unreadable audio")
	}
	if rawMS < cfg.MinRawMS {
		return nil, errdefs.E(errdefs.KindInvalidInput,
			"audio too short (%.1fs), need at least %d seconds", float64(rawMS)/1000, cfg.MinRawMS/1000)
	}

	warning := durationAdvisory(rawMS)

	wavPath := audioPath + ".16k.wav"
	if err := r.tk.ToWAV16kMono(ctx, audioPath, wavPath); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "audio conversion failed")
	}
	defer os.Remove(wavPath)

	samples, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: read converted audio: %w", err)
	}
	speechMS, err := r.gate.SpeechDurationMS(samples)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: measure speech: %w", err)
	}
	if speechMS < cfg.MinSpeechMS {
		return nil, errdefs.E(errdefs.KindInsufficientSpeech,
			"not enough speech detected (%.1fs), try recording in a quieter environment", float64(speechMS)/1000)
	}
	if speechMS < speechAdvisoryMS && warning == "" {
		warning = fmt.Sprintf("Only %.1fs of speech detected in %.1fs recording. 10+ seconds of speech recommended.",
			float64(speechMS)/1000, float64(rawMS)/1000)
	}

	vec, err := r.embedder.Embed(samples)
	if err != nil {
		return nil, err
	}

	if w := r.similarNameWarning(ctx, name); w != "" && warning == "" {
		warning = w
	}

	count, err := r.update(ctx, name, vec, weight)
	if err != nil {
		return nil, err
	}

	observe.Logger(ctx).Info("speaker enrolled",
		"name", name, "raw_ms", rawMS, "speech_ms", speechMS, "weight", weight, "sample_count", count)
	observe.DefaultMetrics().RecordEnrollment(ctx, "upload", "enroll")

	return &EnrollResult{Name: name, SampleCount: count, Warning: warning}, nil
}

// EnrollEmbedding folds a pre-computed embedding into a speaker's
// voiceprint. Used when enrolling directly from a processed meeting,
// where the embedding already exists and the audio is long gone.
func (r *Registry) EnrollEmbedding(ctx context.Context, name string, vec []float32, weight int) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errdefs.E(errdefs.KindInvalidInput, "speaker name is required")
	}
	if len(vec) == 0 {
		return 0, errdefs.E(errdefs.KindInvalidInput, "no embedding available for this speaker")
	}
	if weight <= 0 {
		weight = 1
	}

	normalized := Normalize(append([]float32(nil), vec...))
	count, err := r.update(ctx, name, normalized, weight)
	if err != nil {
		return 0, err
	}

	observe.Logger(ctx).Info("speaker enrolled from embedding", "name", name, "weight", weight, "sample_count", count)
	observe.DefaultMetrics().RecordEnrollment(ctx, "meeting", "enroll")
	return count, nil
}

// Delete removes a speaker from the store and the mirror.
func (r *Registry) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errdefs.E(errdefs.KindInvalidInput, "speaker name is required")
	}

	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.store.Get(ctx, name); err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return errdefs.E(errdefs.KindNotFound, "speaker %q not found", name)
		}
		return errdefs.Wrap(errdefs.KindProviderError, err, "vector store lookup")
	}
	if err := r.store.Delete(ctx, name); err != nil {
		return errdefs.Wrap(errdefs.KindProviderError, err, "vector store delete")
	}
	if err := r.mirror.Remove(name); err != nil {
		observe.Logger(ctx).Warn("mirror update failed after delete", "name", name, "error", err)
	}

	observe.Logger(ctx).Info("speaker deleted", "name", name)
	return nil
}

// List returns the enrolled set straight from the store.
func (r *Registry) List(ctx context.Context) ([]vectorstore.Record, error) {
	recs, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindProviderError, err, "vector store list")
	}
	return recs, nil
}

// SyncFromStore rebuilds the mirror from the store and returns how many
// speakers it now tracks.
func (r *Registry) SyncFromStore(ctx context.Context) (int, error) {
	recs, err := r.store.ListAll(ctx)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindProviderError, err, "vector store list")
	}

	entries := make(map[string]MirrorEntry, len(recs))
	for _, rec := range recs {
		entries[rec.Name] = MirrorEntry{Samples: rec.SampleCount, UpdatedAt: rec.UpdatedAt}
	}
	if err := r.mirror.Write(entries); err != nil {
		return 0, err
	}

	observe.Logger(ctx).Info("speaker mirror rebuilt", "count", len(entries))
	return len(entries), nil
}

// update folds vec into name's stored voiceprint under the per-name
// lock and refreshes the mirror. Returns the new sample count.
//
// First sample: stored as-is with the sample's weight. Early samples
// (count+1 ≤ EMAMinSamples): weighted mean, count grows by the weight.
// Established speakers: EMA with alpha, count grows by one regardless of
// weight; at that point a single sample should nudge the profile, not
// yank it.
func (r *Registry) update(ctx context.Context, name string, vec []float32, weight int) (int, error) {
	cfg := r.config()
	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	existing, err := r.store.Get(ctx, name)
	if err != nil && !errors.Is(err, vectorstore.ErrNotFound) {
		return 0, errdefs.Wrap(errdefs.KindProviderError, err, "vector store lookup")
	}

	var (
		updated []float32
		count   int
	)
	switch {
	case existing == nil:
		updated = vec
		count = weight
	case existing.SampleCount+1 <= cfg.EMAMinSamples:
		nOld := float64(existing.SampleCount)
		w := float64(weight)
		updated = make([]float32, len(vec))
		for i := range vec {
			updated[i] = float32((float64(existing.Vector[i])*nOld + float64(vec[i])*w) / (nOld + w))
		}
		count = existing.SampleCount + weight
	default:
		a := cfg.EMAAlpha
		updated = make([]float32, len(vec))
		for i := range vec {
			updated[i] = float32((1-a)*float64(existing.Vector[i]) + a*float64(vec[i]))
		}
		count = existing.SampleCount + 1
	}
	Normalize(updated)

	rec := vectorstore.Record{Name: name, Vector: updated, SampleCount: count, UpdatedAt: time.Now().UTC()}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = rec.UpdatedAt
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		return 0, errdefs.Wrap(errdefs.KindProviderError, err, "vector store upsert")
	}

	// The store write already succeeded; a stale mirror heals on the
	// next sync, so log and carry on.
	if err := r.mirror.Set(name, MirrorEntry{Samples: count, UpdatedAt: rec.UpdatedAt}); err != nil {
		observe.Logger(ctx).Warn("mirror update failed, will rebuild on next sync", "name", name, "error", err)
	}
	return count, nil
}

// similarNameWarning checks the enrolled set for names that are likely
// typos or spelling variants of name. Advisory only; lookup failures
// are swallowed.
func (r *Registry) similarNameWarning(ctx context.Context, name string) string {
	recs, err := r.store.ListAll(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("name similarity check skipped", "error", err)
		return ""
	}

	p1, s1 := matchr.DoubleMetaphone(name)
	for _, rec := range recs {
		if rec.Name == name {
			continue
		}
		if matchr.Levenshtein(name, rec.Name) <= 1 {
			return fmt.Sprintf("A similarly named speaker %q is already enrolled.", rec.Name)
		}
		p2, s2 := matchr.DoubleMetaphone(rec.Name)
		if p1 != "" && (p1 == p2 || (s1 != "" && s1 == s2)) {
			return fmt.Sprintf("A similar-sounding speaker %q is already enrolled.", rec.Name)
		}
	}
	return ""
}

func (r *Registry) nameLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.names[name]
	if !ok {
		lock = &sync.Mutex{}
		r.names[name] = lock
	}
	return lock
}

// durationAdvisory returns the recording-length advisory for rawMS, or
// "" when the length is in the recommended band.
func durationAdvisory(rawMS int64) string {
	switch {
	case rawMS < 10_000:
		return fmt.Sprintf("Recording is %.1fs. 10-30 seconds recommended for best results.", float64(rawMS)/1000)
	case rawMS > 60_000:
		return fmt.Sprintf("Recording is %.1fs. 15-30 seconds is sufficient.", float64(rawMS)/1000)
	default:
		return ""
	}
}
