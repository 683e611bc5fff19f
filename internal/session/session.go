// Package session holds the in-memory state of processed meetings.
//
// A session is created once identification completes and lives until the
// caller resolves every ambiguous speaker and a summary exists, or until
// the TTL sweep reclaims it. Sessions own files on disk (the converted
// meeting audio and any derived clips); deleting a session removes them.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/voxident/internal/match"
	"github.com/MrWong99/voxident/internal/segment"
	"github.com/MrWong99/voxident/internal/summary"
	"github.com/MrWong99/voxident/pkg/provider/diarize"
)

// Speaker is the per-label outcome exposed to clients.
type Speaker struct {
	MeetingSpeakerID   string            `json:"meeting_speaker_id"`
	Confidence         match.Confidence  `json:"confidence"`
	AssignedName       string            `json:"assigned_name,omitempty"`
	TopScore           float64           `json:"top_score"`
	Margin             float64           `json:"margin"`
	Candidates         []match.Candidate `json:"candidates"`
	NeedsConfirmation  bool              `json:"needs_confirmation"`
	NeedsNaming        bool              `json:"needs_naming"`
	SpeechMS           int64             `json:"speech_ms"`
	LowQuality         bool              `json:"low_quality"`
	Segments           []segment.Span    `json:"segments"`
	LongestUtteranceMS int64             `json:"longest_utterance_ms"`
}

// Session is one processed meeting.
//
// Fields are written by the [Store] under its mutex. Sessions handed out
// by [Store.Get] are detached copies; callers mutate through Store
// methods and re-fetch to observe later writes.
type Session struct {
	MeetingID string
	DeviceID  string

	// AudioPath is the converted 16 kHz mono WAV of the full meeting.
	// Deleted together with the session.
	AudioPath string

	CreatedAt time.Time

	// Speakers maps diarized label to its identification outcome.
	Speakers map[string]*Speaker

	// SpeakerEmbeddings keeps each label's voiceprint so a later confirm
	// or enroll does not have to re-run the encoder.
	SpeakerEmbeddings map[string][]float32

	// SpeakerSegments keeps the chosen source spans per label so clips
	// can be cut from AudioPath on demand.
	SpeakerSegments map[string][]segment.Span

	Utterances      []diarize.Utterance
	AudioDurationMS int64
	Language        string

	// Pending holds labels that still need a user decision (confidence
	// medium or low at creation). Handled holds labels the user has
	// resolved. The two sets are always disjoint; labels that were high
	// at creation appear in neither.
	Pending map[string]struct{}
	Handled map[string]struct{}

	// Summary is nil until generated.
	Summary *summary.Summary
}

// clone copies the speaker entry, including the slices the store may
// hand to multiple callers.
func (sp *Speaker) clone() *Speaker {
	cp := *sp
	cp.Candidates = slices.Clone(sp.Candidates)
	cp.Segments = slices.Clone(sp.Segments)
	return &cp
}

// clone returns a copy detached from the store's live session. Maps,
// sets and per-speaker state are duplicated; write-once data (utterance
// list, embedding vectors, the summary value) is shared.
func (s *Session) clone() *Session {
	cp := *s
	cp.Speakers = make(map[string]*Speaker, len(s.Speakers))
	for label, sp := range s.Speakers {
		cp.Speakers[label] = sp.clone()
	}
	cp.SpeakerEmbeddings = maps.Clone(s.SpeakerEmbeddings)
	cp.SpeakerSegments = maps.Clone(s.SpeakerSegments)
	cp.Pending = maps.Clone(s.Pending)
	cp.Handled = maps.Clone(s.Handled)
	return &cp
}

// NewMeetingID produces a 128-bit random identifier rendered as 32
// lowercase hex characters.
func NewMeetingID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate meeting id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
