// Package analytics emits structured usage events and persists consent
// records.
//
// Events are plain slog records with a fixed "event" attribute, so any
// log pipeline can filter on them; there is no external analytics
// backend. Consent records additionally go to an append-only JSON-lines
// file because they must survive restarts.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxident/internal/observe"
)

// Event names emitted by the pipeline.
const (
	EventSpeakerEnrolled  = "speaker.enrolled"
	EventMeetingProcessed = "meeting.processed"
	EventSummaryGenerated = "summary.generated"
	EventShareSlack       = "share.slack"
	EventConsentAccepted  = "consent.accepted"
)

// Emitter writes analytics events to the structured log. The zero value
// is usable; a nil *Emitter drops every event, so callers never need a
// nil check.
type Emitter struct{}

// Track emits one event with the given device ID and attributes.
func (e *Emitter) Track(ctx context.Context, event, deviceID string, attrs ...slog.Attr) {
	if e == nil {
		return
	}
	base := []slog.Attr{
		slog.String("event", event),
		slog.String("device_id", deviceID),
	}
	observe.Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "analytics event", append(base, attrs...)...)
}

// ConsentRecord is a single consent acknowledgement written to the file log.
type ConsentRecord struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
}

// ConsentLog persists consent records as JSON lines in a local file.
// Thread-safe for concurrent use. A nil *ConsentLog discards records,
// which is the configured behaviour when no path is set.
type ConsentLog struct {
	mu   sync.Mutex
	path string
}

// NewConsentLog creates a ConsentLog that appends to the given path.
// The file is created if it does not exist.
func NewConsentLog(path string) *ConsentLog {
	return &ConsentLog{path: path}
}

// Append writes one consent record to the file. The record's timestamp
// is set to the current UTC time when zero.
func (l *ConsentLog) Append(rec ConsentRecord) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Type == "" {
		rec.Type = "biometric"
	}
	if rec.Version == "" {
		rec.Version = "1.0"
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("analytics: marshal consent: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("analytics: open consent log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("analytics: write consent: %w", err)
	}
	return nil
}
