// Package identify runs the staged speaker-identification pipeline for
// one uploaded meeting recording.
//
// A job transcribes with diarization, normalizes the audio, builds one
// stitched sample and voiceprint per diarized speaker, resolves the
// voiceprints against the enrolled set, and registers the resulting
// session. Progress is streamed as events so the HTTP layer can relay
// them over SSE while the stages run.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/match"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/internal/segment"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/internal/voiceprint"
	"github.com/MrWong99/voxident/pkg/audio"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

// genericErrorMessage is what clients see when a job dies of an
// unclassified error. Detail goes to the log only.
const genericErrorMessage = "Identification failed. Please try again."

// unknownSpeakerName renders an unresolved label in the transcript.
func unknownSpeakerName(label string) string {
	return fmt.Sprintf("Unknown (%s)", label)
}

// Config bounds one Runner. Zero fields fall back to defaults.
type Config struct {
	// DataDir receives the converted meeting WAV and all per-speaker
	// intermediate files.
	DataDir string

	// TranscribeTimeout caps the diarization call. Default 5 minutes.
	TranscribeTimeout time.Duration

	// Workers bounds the per-speaker analysis fan-out. Default 2; the
	// stitching and embedding work is CPU-heavy.
	Workers int
}

// Runner executes identification jobs, one per device at a time.
type Runner struct {
	diarizer diarize.Provider
	tk       audio.Transcoder
	selector *segment.Selector
	embedder *voiceprint.Embedder
	matcher  *match.Matcher
	sessions *session.Store
	emitter  *analytics.Emitter
	cfg      Config

	mu       sync.Mutex
	inflight map[string]struct{} // device IDs with a running job
}

// NewRunner wires a Runner from its pipeline dependencies.
func NewRunner(
	diarizer diarize.Provider,
	tk audio.Transcoder,
	selector *segment.Selector,
	embedder *voiceprint.Embedder,
	matcher *match.Matcher,
	sessions *session.Store,
	emitter *analytics.Emitter,
	cfg Config,
) *Runner {
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Runner{
		diarizer: diarizer,
		tk:       tk,
		selector: selector,
		embedder: embedder,
		matcher:  matcher,
		sessions: sessions,
		emitter:  emitter,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// Run starts an identification job over the uploaded file and returns
// its event stream. The channel closes after the terminal event. Returns
// KindBusy without starting anything when the device already has a job
// in flight. The runner owns uploadPath from here on and removes it.
//
// Cancelling ctx (client disconnect) aborts the job at the next stage
// boundary; temp files are cleaned up and no session is created.
func (r *Runner) Run(ctx context.Context, deviceID, uploadPath string) (<-chan Event, error) {
	r.mu.Lock()
	if _, busy := r.inflight[deviceID]; busy {
		r.mu.Unlock()
		return nil, errdefs.E(errdefs.KindBusy, "an identification job is already running for this device")
	}
	r.inflight[deviceID] = struct{}{}
	r.mu.Unlock()

	events := make(chan Event, 8)
	go func() {
		defer close(events)
		defer func() {
			r.mu.Lock()
			delete(r.inflight, deviceID)
			r.mu.Unlock()
		}()

		met := observe.DefaultMetrics()
		met.ActiveJobs.Add(ctx, 1)
		defer met.ActiveJobs.Add(ctx, -1)

		status := r.execute(ctx, deviceID, uploadPath, events)
		met.IdentifyJobs.Add(context.WithoutCancel(ctx), 1,
			metric.WithAttributes(observe.Attr("status", status)))
	}()
	return events, nil
}

// execute runs the stages and returns the job's final status for the
// IdentifyJobs counter: "ok", "empty", "error" or "canceled".
func (r *Runner) execute(ctx context.Context, deviceID, uploadPath string, events chan<- Event) string {
	log := observe.Logger(ctx).With("device_id", deviceID)
	met := observe.DefaultMetrics()

	// The upload never outlives the job; the converted WAV is handed to
	// the session on success and removed here otherwise.
	wavPath := ""
	cleanWAV := true
	defer func() {
		os.Remove(uploadPath)
		if cleanWAV && wavPath != "" {
			os.Remove(wavPath)
		}
	}()

	fail := func(err error) string {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			log.Info("identification canceled by client")
			return "canceled"
		}
		log.Error("identification failed", "error", err)
		msg := errdefs.Message(err)
		if errdefs.KindOf(err) == errdefs.KindInternal {
			msg = genericErrorMessage
		}
		r.emit(ctx, events, Event{Name: "error", Data: ErrorPayload{Message: msg}})
		return "error"
	}

	// Stage 1: diarized transcription of the raw upload.
	if !r.emit(ctx, events, progressEvent(StageTranscribing)) {
		return "canceled"
	}
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TranscribeTimeout)
	result, err := r.diarizer.Transcribe(tctx, uploadPath)
	cancel()
	met.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		met.RecordProviderError(ctx, "diarize", "transcribe")
		met.RecordProviderRequest(ctx, "diarize", "transcribe", "error")
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = errdefs.Wrap(errdefs.KindProviderTimeout, err, "transcription timed out")
		} else if errdefs.KindOf(err) == errdefs.KindInternal {
			err = errdefs.Wrap(errdefs.KindProviderError, err, "transcription failed")
		}
		return fail(err)
	}
	met.RecordProviderRequest(ctx, "diarize", "transcribe", "ok")

	if len(result.Utterances) == 0 {
		log.Info("no speech detected in upload")
		r.emit(ctx, events, Event{Name: "done", Data: DonePayload{
			OK:         true,
			Speakers:   []*session.Speaker{},
			Utterances: []LabeledUtterance{},
			Message:    "No speech detected in audio",
		}})
		return "empty"
	}

	// Stage 2: normalize the upload into the canonical processing WAV.
	// The meeting ID is fixed now so every derived file carries it.
	if !r.emit(ctx, events, progressEvent(StageConverting)) {
		return "canceled"
	}
	meetingID, err := session.NewMeetingID()
	if err != nil {
		return fail(err)
	}
	wavPath = filepath.Join(r.cfg.DataDir, meetingID+".wav")

	// Per-job scratch dir: concurrent jobs must not clobber each other's
	// per-speaker intermediate files.
	workDir := filepath.Join(r.cfg.DataDir, meetingID+".work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fail(fmt.Errorf("identify: create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	start = time.Now()
	if err := r.tk.ToWAV16kMono(ctx, uploadPath, wavPath); err != nil {
		if errors.Is(err, audio.ErrNoAudio) {
			err = errdefs.Wrap(errdefs.KindInvalidInput, err, "upload contains no audio")
		}
		return fail(err)
	}
	met.ConvertDuration.Record(ctx, time.Since(start).Seconds())

	audioDurationMS := result.AudioDurationMS
	if audioDurationMS == 0 {
		if probed, err := r.tk.DurationMS(ctx, wavPath); err == nil {
			audioDurationMS = probed
		}
	}

	// Stage 3: per-speaker sample selection and voiceprint extraction.
	if !r.emit(ctx, events, progressEvent(StageAnalyzing)) {
		return "canceled"
	}
	start = time.Now()
	outcomes, err := r.analyze(ctx, wavPath, workDir, result.Utterances)
	met.AnalyzeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fail(err)
	}

	// Stage 4: competitive matching over all extracted voiceprints.
	if !r.emit(ctx, events, progressEvent(StageMatching)) {
		return "canceled"
	}
	embeddings := make(map[string][]float32)
	for _, o := range outcomes {
		if o.vec != nil {
			embeddings[o.label] = o.vec
		}
	}
	start = time.Now()
	matches := make(map[string]*match.Result)
	if len(embeddings) > 0 {
		matches, err = r.matcher.Match(ctx, embeddings)
		if err != nil {
			met.RecordProviderError(ctx, "vectorstore", "query")
			return fail(errdefs.Wrap(errdefs.KindProviderError, err, "voiceprint matching failed"))
		}
	}
	met.MatchDuration.Record(ctx, time.Since(start).Seconds())

	speakers := make(map[string]*session.Speaker, len(outcomes))
	for _, o := range outcomes {
		sp := o.speaker(matches[o.label])
		speakers[o.label] = sp
		met.RecordMatchOutcome(ctx, string(sp.Confidence))
	}

	if ctx.Err() != nil {
		return fail(ctx.Err())
	}

	sess := &session.Session{
		MeetingID:         meetingID,
		DeviceID:          deviceID,
		AudioPath:         wavPath,
		Speakers:          speakers,
		SpeakerEmbeddings: embeddings,
		SpeakerSegments:   speakerSegments(outcomes),
		Utterances:        result.Utterances,
		AudioDurationMS:   audioDurationMS,
		Language:          result.Language,
	}
	if err := r.sessions.Create(ctx, sess); err != nil {
		return fail(err)
	}
	cleanWAV = false // the session owns the WAV now

	// Create published the session; confirm/summary handlers may already
	// be writing to it. Work from a detached copy from here on.
	view, err := r.sessions.Get(meetingID)
	if err != nil {
		return fail(err)
	}

	log.Info("meeting identified",
		"meeting_id", meetingID,
		"speakers", len(speakers),
		"pending", len(view.Pending),
		"audio_duration_ms", audioDurationMS,
	)
	r.emitter.Track(ctx, analytics.EventMeetingProcessed, deviceID,
		slog.String("meeting_id", meetingID),
		slog.Int("speakers", len(speakers)),
		slog.Int64("audio_duration_ms", audioDurationMS),
	)

	r.emit(ctx, events, Event{Name: "done", Data: Snapshot(view)})
	return "ok"
}

// speakerOutcome carries one label's analysis results into assembly.
type speakerOutcome struct {
	label string
	sel   *segment.Selection
	vec   []float32 // nil when no usable sample exists
}

// speaker builds the session entry from the analysis outcome and the
// label's match result, which is nil for labels without a voiceprint.
func (o *speakerOutcome) speaker(res *match.Result) *session.Speaker {
	sp := &session.Speaker{
		MeetingSpeakerID:   o.label,
		Confidence:         match.ConfidenceLow,
		Candidates:         []match.Candidate{},
		SpeechMS:           o.sel.SpeechMS,
		LowQuality:         o.sel.LowQuality,
		Segments:           o.sel.Segments,
		LongestUtteranceMS: o.sel.LongestUtteranceMS,
	}
	if res != nil {
		sp.Confidence = res.Confidence
		sp.AssignedName = res.AssignedName
		sp.TopScore = res.TopScore
		sp.Margin = res.Margin
		if res.Candidates != nil {
			sp.Candidates = res.Candidates
		}
	}
	sp.NeedsConfirmation = sp.Confidence == match.ConfidenceMedium
	sp.NeedsNaming = sp.Confidence == match.ConfidenceLow
	return sp
}

// analyze fans out over the diarized speakers, selecting and embedding
// each one's identification sample. A speaker whose audio cannot carry a
// voiceprint gets a nil vector, not an error; the whole job only fails
// on infrastructure problems.
func (r *Runner) analyze(ctx context.Context, wavPath, workDir string, utts []diarize.Utterance) ([]*speakerOutcome, error) {
	byLabel := make(map[string][]diarize.Utterance)
	for _, u := range utts {
		byLabel[u.Speaker] = append(byLabel[u.Speaker], u)
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	outcomes := make([]*speakerOutcome, len(labels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, label := range labels {
		g.Go(func() error {
			sel, err := r.selector.Select(gctx, wavPath, workDir, label, byLabel[label])
			if err != nil {
				return err
			}
			out := &speakerOutcome{label: label, sel: sel}
			outcomes[i] = out
			if sel.Empty() {
				return nil
			}
			defer os.Remove(sel.StitchedPath)

			samples, err := audio.ReadWAVFile(sel.StitchedPath)
			if err != nil {
				return fmt.Errorf("identify: read stitched sample for %s: %w", label, err)
			}
			vec, err := r.embedder.Embed(samples)
			if err != nil {
				// Too little speech survives the VAD: score the speaker as
				// unmatchable instead of failing the meeting.
				if errdefs.KindOf(err) == errdefs.KindInvalidInput {
					observe.Logger(gctx).Warn("speaker sample unusable", "label", label, "error", err)
					out.sel.LowQuality = true
					return nil
				}
				return fmt.Errorf("identify: embed %s: %w", label, err)
			}
			out.vec = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func speakerSegments(outcomes []*speakerOutcome) map[string][]segment.Span {
	segs := make(map[string][]segment.Span, len(outcomes))
	for _, o := range outcomes {
		if len(o.sel.Segments) > 0 {
			segs[o.label] = o.sel.Segments
		}
	}
	return segs
}

// Snapshot renders a session as the client-facing payload used both for
// the terminal "done" event and the meeting snapshot endpoint.
func Snapshot(sess *session.Session) DonePayload {
	labels := make([]string, 0, len(sess.Speakers))
	for l := range sess.Speakers {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	speakers := make([]*session.Speaker, 0, len(labels))
	for _, l := range labels {
		speakers = append(speakers, sess.Speakers[l])
	}

	utterances := make([]LabeledUtterance, 0, len(sess.Utterances))
	for _, u := range sess.Utterances {
		name := unknownSpeakerName(u.Speaker)
		if sp := sess.Speakers[u.Speaker]; sp != nil && sp.AssignedName != "" {
			name = sp.AssignedName
		}
		utterances = append(utterances, LabeledUtterance{
			SpeakerID:   u.Speaker,
			SpeakerName: name,
			Text:        u.Text,
			StartMS:     u.StartMS,
			EndMS:       u.EndMS,
		})
	}

	id := sess.MeetingID
	return DonePayload{
		OK:              true,
		MeetingID:       &id,
		Speakers:        speakers,
		Utterances:      utterances,
		AudioDurationMS: sess.AudioDurationMS,
		Language:        sess.Language,
		Summary:         sess.Summary,
	}
}

// emit delivers ev unless the consumer is gone. Events are never dropped
// for a live consumer; the channel buffer absorbs bursts and the SSE
// writer drains continuously.
func (r *Runner) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
