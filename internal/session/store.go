package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voxident/internal/match"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/internal/summary"
)

// ErrNotFound is returned when no session exists under the meeting ID.
var ErrNotFound = errors.New("session: meeting not found")

// ErrLabelNotFound is returned when a session has no such speaker label.
var ErrLabelNotFound = errors.New("session: speaker label not found")

// ErrNotPending is returned when an operation requires a label that still
// awaits a user decision but the label has already been resolved.
var ErrNotPending = errors.New("session: speaker already resolved")

// Store is the thread-safe in-memory session registry. All operations
// are short and non-blocking; file removal is the only I/O and happens
// after the affected session has already left the map.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byDevice map[string]string // device ID → meeting ID of its live session
	ttl      time.Duration
}

// NewStore creates a Store that expires sessions after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		byDevice: make(map[string]string),
		ttl:      ttl,
	}
}

// Create registers sess, generating its meeting ID and creation time
// when unset. Any live session for the same device is deleted first,
// files included; a device has at most one session at a time.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.MeetingID == "" {
		id, err := NewMeetingID()
		if err != nil {
			return err
		}
		sess.MeetingID = id
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	sess.Pending = make(map[string]struct{})
	sess.Handled = make(map[string]struct{})
	for label, sp := range sess.Speakers {
		if sp.Confidence != match.ConfidenceHigh {
			sess.Pending[label] = struct{}{}
		}
	}

	s.mu.Lock()
	var evicted *Session
	if prev, ok := s.byDevice[sess.DeviceID]; ok {
		evicted = s.sessions[prev]
		delete(s.sessions, prev)
	}
	s.sessions[sess.MeetingID] = sess
	s.byDevice[sess.DeviceID] = sess.MeetingID
	s.mu.Unlock()

	observe.DefaultMetrics().ActiveSessions.Add(ctx, 1)
	if evicted != nil {
		observe.DefaultMetrics().ActiveSessions.Add(ctx, -1)
		s.removeFiles(ctx, evicted)
	}
	return nil
}

// Get returns a copy of the session stored under meetingID, or
// [ErrNotFound]. The copy is taken under the store mutex and never
// observes later writes; re-fetch to see them.
func (s *Store) Get(meetingID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

// Speaker returns a copy of one label's entry, or ErrNotFound /
// ErrLabelNotFound.
func (s *Store) Speaker(meetingID, label string) (*Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	sp, ok := sess.Speakers[label]
	if !ok {
		return nil, ErrLabelNotFound
	}
	return sp.clone(), nil
}

// Delete removes the session and its files. Deleting a missing meeting
// is not an error.
func (s *Store) Delete(ctx context.Context, meetingID string) {
	s.mu.Lock()
	sess, ok := s.sessions[meetingID]
	if ok {
		delete(s.sessions, meetingID)
		if s.byDevice[sess.DeviceID] == meetingID {
			delete(s.byDevice, sess.DeviceID)
		}
	}
	s.mu.Unlock()

	if ok {
		observe.DefaultMetrics().ActiveSessions.Add(ctx, -1)
		s.removeFiles(ctx, sess)
	}
}

// MarkHandled records the user's decision for one pending label: the
// name is assigned, confidence becomes high and the label moves from the
// pending to the handled set. Labels that were high at creation are in
// neither set and stay there; resolving them again just rewrites the
// name.
func (s *Store) MarkHandled(meetingID, label, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[meetingID]
	if !ok {
		return ErrNotFound
	}
	sp, ok := sess.Speakers[label]
	if !ok {
		return ErrLabelNotFound
	}

	if _, pending := sess.Pending[label]; pending {
		delete(sess.Pending, label)
		sess.Handled[label] = struct{}{}
	} else if _, handled := sess.Handled[label]; handled {
		return ErrNotPending
	}

	sp.AssignedName = name
	sp.Confidence = match.ConfidenceHigh
	sp.NeedsConfirmation = false
	sp.NeedsNaming = false
	return nil
}

// SetSummary attaches (or replaces) the session's summary.
func (s *Store) SetSummary(meetingID string, sum *summary.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[meetingID]
	if !ok {
		return ErrNotFound
	}
	sess.Summary = sum
	return nil
}

// CleanupIfComplete deletes the session iff every speaker decision is in
// and a summary exists. Reports whether the session was deleted.
func (s *Store) CleanupIfComplete(ctx context.Context, meetingID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[meetingID]
	done := ok && len(sess.Pending) == 0 && sess.Summary != nil
	if done {
		delete(s.sessions, meetingID)
		if s.byDevice[sess.DeviceID] == meetingID {
			delete(s.byDevice, sess.DeviceID)
		}
	}
	s.mu.Unlock()

	if done {
		observe.DefaultMetrics().ActiveSessions.Add(ctx, -1)
		s.removeFiles(ctx, sess)
	}
	return done
}

// SweepExpired deletes every session older than the store TTL relative
// to now and returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.ttl {
			delete(s.sessions, id)
			if s.byDevice[sess.DeviceID] == id {
				delete(s.byDevice, sess.DeviceID)
			}
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		observe.DefaultMetrics().ActiveSessions.Add(ctx, -int64(len(expired)))
	}
	for _, sess := range expired {
		s.removeFiles(ctx, sess)
	}
	return len(expired)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions on the given interval until ctx is
// cancelled. Meant to be started as a goroutine from the composition
// root.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.SweepExpired(ctx, now); n > 0 {
				observe.Logger(ctx).Info("expired sessions reclaimed", "count", n)
			}
		}
	}
}

// removeFiles unlinks the session's audio and any derived clip files.
// Failures are logged, never returned; the session is already gone from
// the map and a leaked temp file must not fail the caller's operation.
func (s *Store) removeFiles(ctx context.Context, sess *Session) {
	log := observe.Logger(ctx)
	if sess.AudioPath == "" {
		return
	}
	if err := os.Remove(sess.AudioPath); err != nil && !os.IsNotExist(err) {
		log.Warn("remove session audio", "path", sess.AudioPath, "error", err)
	}

	pattern := filepath.Join(filepath.Dir(sess.AudioPath), sess.MeetingID+"_*_clip.wav")
	clips, err := filepath.Glob(pattern)
	if err != nil {
		log.Warn("glob session clips", "pattern", pattern, "error", err)
		return
	}
	for _, clip := range clips {
		if err := os.Remove(clip); err != nil && !os.IsNotExist(err) {
			log.Warn("remove session clip", "path", clip, "error", err)
		}
	}
}
