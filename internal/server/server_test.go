package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/clip"
	"github.com/MrWong99/voxident/internal/health"
	"github.com/MrWong99/voxident/internal/identify"
	"github.com/MrWong99/voxident/internal/match"
	"github.com/MrWong99/voxident/internal/segment"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/internal/summary"
	"github.com/MrWong99/voxident/internal/voiceprint"
	"github.com/MrWong99/voxident/pkg/audio"
	audiomock "github.com/MrWong99/voxident/pkg/audio/mock"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
	diarizemock "github.com/MrWong99/voxident/pkg/provider/diarize/mock"
	llmmock "github.com/MrWong99/voxident/pkg/provider/llm/mock"
	speakermock "github.com/MrWong99/voxident/pkg/provider/speaker/mock"
	"github.com/MrWong99/voxident/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxident/pkg/provider/vad/mock"
	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
	vsmock "github.com/MrWong99/voxident/pkg/provider/vectorstore/mock"
)

const summaryJSON = `{
	"executive_summary": "Quarterly planning sync.",
	"action_items": [{"task": "Draft roadmap", "assignee": "Alice"}],
	"key_decisions": ["Ship in March"],
	"topics_discussed": ["roadmap"]
}`

type testServer struct {
	srv      *Server
	sessions *session.Store
	store    *vsmock.Store
	diarizer *diarizemock.Provider
	llm      *llmmock.Provider
	dataDir  string
	consent  string
}

// newTestServer wires the full HTTP stack over mocks. The speaker
// encoder returns a vector keyed to sample length so identification
// tests can tell diarized speakers apart.
func newTestServer(t *testing.T, opts Options) *testServer {
	return newTestServerWithSlack(t, opts, "")
}

func newTestServerWithSlack(t *testing.T, opts Options, slackURL string) *testServer {
	t.Helper()
	dataDir := t.TempDir()
	if opts.DataDir == "" {
		opts.DataDir = dataDir
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Minute
	}

	gate := vad.NewGate(&vadmock.Detector{SpansFn: func(samples []float32) []vad.Span {
		return []vad.Span{{Start: 0, End: len(samples)}}
	}}, audio.SampleRate)
	enc := &speakermock.Encoder{
		Dim: 4,
		EncodeFn: func(samples []float32) []float32 {
			if len(samples) >= 12*audio.SampleRate {
				return []float32{1, 0, 0, 0}
			}
			return []float32{0, 1, 0, 0}
		},
	}

	tk := &audiomock.Transcoder{}
	store := &vsmock.Store{}
	sessions := session.NewStore(time.Hour)
	embedder := voiceprint.NewEmbedder(enc, gate)
	mirror := voiceprint.NewMirror(filepath.Join(dataDir, "speakers.json"))
	registry := voiceprint.NewRegistry(store, embedder, tk, gate, mirror, voiceprint.DefaultConfig())
	diarizer := &diarizemock.Provider{}
	llmProvider := &llmmock.Provider{Content: summaryJSON}
	consentPath := filepath.Join(dataDir, "consent.jsonl")

	runner := identify.NewRunner(
		diarizer, tk,
		segment.NewSelector(tk, gate, segment.DefaultParams()),
		embedder,
		match.New(store, match.DefaultConfig()),
		sessions,
		&analytics.Emitter{},
		identify.Config{DataDir: opts.DataDir},
	)

	srv := New(Deps{
		Registry:   registry,
		Runner:     runner,
		Sessions:   sessions,
		Clips:      clip.NewBuilder(tk, gate, 5000),
		Summarizer: summary.NewGenerator(llmProvider, time.Minute),
		Slack:      summary.NewSlackNotifier(slackURL),
		Consent:    analytics.NewConsentLog(consentPath),
		Emitter:    &analytics.Emitter{},
		Health:     health.New(health.StoreChecker(store)),
	}, opts)

	return &testServer{
		srv:      srv,
		sessions: sessions,
		store:    store,
		diarizer: diarizer,
		llm:      llmProvider,
		dataDir:  opts.DataDir,
		consent:  consentPath,
	}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// multipartBody builds a multipart form with optional text fields and
// one WAV file part holding the given number of seconds of audio.
func multipartBody(t *testing.T, fields map[string]string, fileField string, seconds int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, "recording.wav")
		if err != nil {
			t.Fatal(err)
		}
		tmp := filepath.Join(t.TempDir(), "part.wav")
		if err := audio.WriteWAVFile(tmp, make([]float32, seconds*audio.SampleRate), audio.SampleRate); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(tmp)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

// seedSession registers a session with one medium-confidence speaker
// "A" (embedding stored) and one low-quality speaker "B".
func (ts *testServer) seedSession(t *testing.T) *session.Session {
	t.Helper()
	audioPath := filepath.Join(ts.dataDir, "seeded.wav")
	if err := audio.WriteWAVFile(audioPath, make([]float32, 20*audio.SampleRate), audio.SampleRate); err != nil {
		t.Fatal(err)
	}
	sess := &session.Session{
		DeviceID:  "seed-device",
		AudioPath: audioPath,
		Speakers: map[string]*session.Speaker{
			"A": {
				MeetingSpeakerID:  "A",
				Confidence:        match.ConfidenceMedium,
				TopScore:          0.60,
				Candidates:        []match.Candidate{{Name: "Alice", Score: 0.60}},
				NeedsConfirmation: true,
				SpeechMS:          9_000,
			},
			"B": {
				MeetingSpeakerID: "B",
				Confidence:       match.ConfidenceLow,
				Candidates:       []match.Candidate{},
				NeedsNaming:      true,
				LowQuality:       true,
				SpeechMS:         1_500,
			},
		},
		SpeakerEmbeddings: map[string][]float32{
			"A": {1, 0, 0, 0},
			"B": {0, 1, 0, 0},
		},
		SpeakerSegments: map[string][]segment.Span{
			"A": {{Start: 0, End: 8_000}},
		},
		Utterances: []diarize.Utterance{
			{Speaker: "A", Text: "status update", StartMS: 0, EndMS: 8_000},
			{Speaker: "B", Text: "sounds good", StartMS: 8_000, EndMS: 9_500},
		},
		AudioDurationMS: 20_000,
		Language:        "en",
	}
	if err := ts.sessions.Create(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

// ── Enrollment and speaker management ────────────────────────────────

func TestEnroll_Succeeds(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})

	body, ctype := multipartBody(t, map[string]string{"name": "Alice"}, "audio", 15)
	req := httptest.NewRequest(http.MethodPost, "/api/enroll", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON(t, rec)
	if got["speaker"] != "Alice" || got["total_samples"] != float64(2) {
		t.Errorf("body = %v", got)
	}
}

func TestEnroll_TooShortIs400(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})

	body, ctype := multipartBody(t, map[string]string{"name": "Alice"}, "audio", 2)
	req := httptest.NewRequest(http.MethodPost, "/api/enroll", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := ts.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := decodeJSON(t, rec)["message"]; msg == "" {
		t.Error("error response has no message")
	}
}

func TestEnroll_MissingAudioIs400(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})

	body, ctype := multipartBody(t, map[string]string{"name": "Alice"}, "", 0)
	req := httptest.NewRequest(http.MethodPost, "/api/enroll", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	if rec := ts.do(t, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSpeakers_ListDeleteSync(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	for _, name := range []string{"Alice", "Bob"} {
		if err := ts.store.Upsert(context.Background(), vectorstore.Record{
			Name: name, Vector: []float32{1, 0, 0, 0}, SampleCount: 3,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/speakers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if speakers := decodeJSON(t, rec)["speakers"].([]any); len(speakers) != 2 {
		t.Errorf("got %d speakers, want 2", len(speakers))
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/speakers/Alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/speakers/Alice", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/speakers/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d", rec.Code)
	}
	if got := decodeJSON(t, rec)["count"]; got != float64(1) {
		t.Errorf("sync count = %v, want 1", got)
	}
}

// ── Identification over SSE ──────────────────────────────────────────

func TestIdentify_StreamsToDone(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	ts.diarizer.Result = &diarize.Result{
		Utterances: []diarize.Utterance{
			{Speaker: "A", Text: "hello", StartMS: 0, EndMS: 12_000},
		},
		Language:        "en",
		AudioDurationMS: 12_000,
	}
	if err := ts.store.Upsert(context.Background(), vectorstore.Record{
		Name: "Alice", Vector: []float32{1, 0, 0, 0}, SampleCount: 3,
	}); err != nil {
		t.Fatal(err)
	}

	body, ctype := multipartBody(t, nil, "audio", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/identify", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("content type = %q", got)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("missing X-Accel-Buffering: no")
	}

	stream := rec.Body.String()
	for _, stage := range []string{"transcribing", "converting", "analyzing", "matching"} {
		if !strings.Contains(stream, `"stage":"`+stage+`"`) {
			t.Errorf("stream missing stage %q:\n%s", stage, stream)
		}
	}
	if !strings.Contains(stream, "event: done") {
		t.Fatalf("stream missing done event:\n%s", stream)
	}

	done := lastEventData(t, stream, "done")
	meetingID, _ := done["meeting_id"].(string)
	if meetingID == "" {
		t.Fatalf("done has no meeting_id: %v", done)
	}

	// The snapshot endpoint serves the same meeting.
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/meeting/"+meetingID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("meeting status = %d", rec.Code)
	}
	snap := decodeJSON(t, rec)
	if snap["language"] != "en" {
		t.Errorf("snapshot = %v", snap)
	}

	// Clip, then cleanup, then the meeting is gone.
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/meeting/"+meetingID+"/speaker/A/clip", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clip status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "audio/wav" {
		t.Errorf("clip content type = %q", got)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+meetingID+"/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/meeting/"+meetingID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("meeting after cleanup = %d, want 404", rec.Code)
	}
}

func TestIdentify_BusyDeviceIs409(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	ts.diarizer.TranscribeFn = func(ctx context.Context, path string) (*diarize.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &diarize.Result{}, nil
	}

	firstBody, firstCtype := multipartBody(t, nil, "audio", 1)
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		req := httptest.NewRequest(http.MethodPost, "/api/identify", firstBody)
		req.Header.Set(echo.HeaderContentType, firstCtype)
		req.Header.Set(deviceIDHeader, "dev-1")
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
	}()
	<-started

	body, ctype := multipartBody(t, nil, "audio", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/identify", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	req.Header.Set(deviceIDHeader, "dev-1")
	rec := ts.do(t, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	close(release)
	<-firstDone
}

func TestIdentify_NoSpeech(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{}) // zero-value diarizer returns no utterances

	body, ctype := multipartBody(t, nil, "audio", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/identify", body)
	req.Header.Set(echo.HeaderContentType, ctype)
	rec := ts.do(t, req)

	done := lastEventData(t, rec.Body.String(), "done")
	if done["meeting_id"] != nil {
		t.Errorf("meeting_id = %v, want null", done["meeting_id"])
	}
	if done["message"] != "No speech detected in audio" {
		t.Errorf("message = %v", done["message"])
	}
}

// lastEventData parses the data payload of the last SSE event with the
// given name.
func lastEventData(t *testing.T, stream, name string) map[string]any {
	t.Helper()
	marker := "event: " + name + "\ndata: "
	idx := strings.LastIndex(stream, marker)
	if idx < 0 {
		t.Fatalf("no %q event in stream:\n%s", name, stream)
	}
	rest := stream[idx+len(marker):]
	line, _, _ := strings.Cut(rest, "\n")
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		t.Fatalf("bad %s payload %q: %v", name, line, err)
	}
	return data
}

// ── Confirmation and enroll-from-meeting ─────────────────────────────

func TestConfirmSpeaker_EnrollsAndResolves(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	sess := ts.seedSession(t)

	form := "meeting_id=" + sess.MeetingID + "&speaker_id=A&confirmed_name=Alice&enroll=true"
	req := httptest.NewRequest(http.MethodPost, "/api/confirm-speaker", strings.NewReader(form))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON(t, rec)
	if got["enrolled"] != true || got["confirmed_name"] != "Alice" {
		t.Errorf("body = %v", got)
	}
	if got["session_cleaned_up"] != false {
		t.Error("session cleaned up with speaker B still pending")
	}
	if len(ts.store.UpsertCalls) == 0 {
		t.Error("no voiceprint upsert on enroll=true")
	}

	sp, err := ts.sessions.Speaker(sess.MeetingID, "A")
	if err != nil {
		t.Fatal(err)
	}
	if sp.AssignedName != "Alice" || sp.Confidence != match.ConfidenceHigh {
		t.Errorf("speaker after confirm = %+v", sp)
	}

	// Confirming the same label again is a client error.
	rec = ts.do(t, func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/confirm-speaker", strings.NewReader(form))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		return r
	}())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second confirm status = %d, want 400", rec.Code)
	}
}

func TestConfirmSpeaker_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	ts.seedSession(t)

	cases := []struct {
		name string
		form string
		want int
	}{
		{"missing fields", "meeting_id=x", http.StatusBadRequest},
		{"unknown meeting", "meeting_id=deadbeef&speaker_id=A&confirmed_name=Alice", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/confirm-speaker", strings.NewReader(tc.form))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
			if rec := ts.do(t, req); rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestEnrollFromMeeting_RejectsLowQuality(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	sess := ts.seedSession(t)

	form := "meeting_id=" + sess.MeetingID + "&speaker_id=B&speaker_name=Bob"
	req := httptest.NewRequest(http.MethodPost, "/api/enroll-from-meeting", strings.NewReader(form))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := ts.do(t, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnrollFromMeeting_Succeeds(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	sess := ts.seedSession(t)
	// Promote B's sample quality so enrollment is allowed.
	sess.Speakers["B"].LowQuality = false

	form := "meeting_id=" + sess.MeetingID + "&speaker_id=B&speaker_name=Bob"
	req := httptest.NewRequest(http.MethodPost, "/api/enroll-from-meeting", strings.NewReader(form))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeJSON(t, rec)
	if got["speaker"] != "Bob" || got["total_samples"] != float64(1) {
		t.Errorf("body = %v", got)
	}
}

// ── Summaries, sharing and consent ───────────────────────────────────

func TestSummary_GenerateAndFetch(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	sess := ts.seedSession(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/meeting/"+sess.MeetingID+"/summary", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("summary before generation = %d, want 404", rec.Code)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	sum := decodeJSON(t, rec)["summary"].(map[string]any)
	if sum["executive_summary"] != "Quarterly planning sync." {
		t.Errorf("summary = %v", sum)
	}

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/meeting/"+sess.MeetingID+"/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}

	// The transcript handed to the LLM used resolved speaker names.
	reqs := ts.llm.Requests
	if len(reqs) != 1 || !strings.Contains(reqs[0].Messages[0].Content, "Unknown (A)") {
		t.Errorf("llm transcript missing placeholder names: %+v", reqs)
	}
}

func TestSummary_UnknownMeetingIs404(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/deadbeef/summary", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestShareSlack_StatusLadder(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, Options{})
		sess := ts.seedSession(t)
		rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil))
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("status = %d, want 501", rec.Code)
		}
	})

	t.Run("configured", func(t *testing.T) {
		t.Parallel()
		var received atomicBool
		hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			received.set()
			w.WriteHeader(http.StatusOK)
		}))
		defer hook.Close()

		ts := newTestServerWithSlack(t, Options{}, hook.URL)
		sess := ts.seedSession(t)

		// No summary yet: 400.
		rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("share before summary = %d, want 400", rec.Code)
		}

		rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/summary", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("generate = %d", rec.Code)
		}
		rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("share = %d: %s", rec.Code, rec.Body.String())
		}
		if !received.get() {
			t.Error("webhook never called")
		}
	})

	t.Run("admin gate", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, Options{AdminCode: "sekrit"})
		sess := ts.seedSession(t)

		rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("without code = %d, want 403", rec.Code)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil)
		req.Header.Set(inviteCodeHeader, "sekrit")
		rec = ts.do(t, req)
		// Passes the gate, then fails on the unconfigured webhook.
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("with code = %d, want 501", rec.Code)
		}

		// Clearing the code removes the gate.
		ts.srv.SetAdminCode("")
		rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/meeting/"+sess.MeetingID+"/share/slack", nil))
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("after clearing code = %d, want 501", rec.Code)
		}
	})
}

func TestConsent_AppendsRecord(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/consent", strings.NewReader(`{"type":"biometric"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(deviceIDHeader, "dev-9")
	rec := ts.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeJSON(t, rec)["accepted"] != true {
		t.Error("not accepted")
	}

	data, err := os.ReadFile(ts.consent)
	if err != nil {
		t.Fatalf("consent log missing: %v", err)
	}
	if !strings.Contains(string(data), `"device_id":"dev-9"`) {
		t.Errorf("consent record = %s", data)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, Options{})

	if rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}

// atomicBool is a tiny helper for cross-goroutine test flags.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set() { b.mu.Lock(); b.v = true; b.mu.Unlock() }
func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}
