package identify

import (
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/internal/summary"
)

// Stage names the pipeline phases in execution order.
type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageConverting   Stage = "converting"
	StageAnalyzing    Stage = "analyzing"
	StageMatching     Stage = "matching"
)

// stageMessages are the user-facing progress texts per stage.
var stageMessages = map[Stage]string{
	StageTranscribing: "Transcribing audio (this takes a while for longer recordings)...",
	StageConverting:   "Converting audio format...",
	StageAnalyzing:    "Analyzing speaker voices...",
	StageMatching:     "Matching speakers to voiceprints...",
}

// Event is one server-sent event produced by a job. Name maps to the SSE
// "event" field, Data is marshaled into the "data" field.
type Event struct {
	Name string
	Data any
}

// Progress is the payload of a "progress" event.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// ErrorPayload is the payload of a terminal "error" event. The message is
// already sanitized for clients.
type ErrorPayload struct {
	Message string `json:"message"`
}

// LabeledUtterance is one transcript turn with its resolved speaker name.
type LabeledUtterance struct {
	SpeakerID   string `json:"speaker_id"`
	SpeakerName string `json:"speaker_name"`
	Text        string `json:"text"`
	StartMS     int64  `json:"start"`
	EndMS       int64  `json:"end"`
}

// DonePayload is the payload of the terminal "done" event. MeetingID is
// nil when the recording contained no speech; no session exists then.
// The same shape serves the meeting snapshot endpoint, which is where
// Summary gets populated.
type DonePayload struct {
	OK              bool               `json:"ok"`
	MeetingID       *string            `json:"meeting_id"`
	Speakers        []*session.Speaker `json:"speakers"`
	Utterances      []LabeledUtterance `json:"utterances"`
	AudioDurationMS int64              `json:"audio_duration_ms"`
	Language        string             `json:"language"`
	Summary         *summary.Summary   `json:"summary,omitempty"`
	Message         string             `json:"message,omitempty"`
}

func progressEvent(stage Stage) Event {
	return Event{Name: "progress", Data: Progress{Stage: stage, Message: stageMessages[stage]}}
}
