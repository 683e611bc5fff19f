package server

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/identify"
	"github.com/MrWong99/voxident/internal/session"
)

// mapSessionErr converts session store sentinels into transport kinds.
func mapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return errdefs.Wrap(errdefs.KindNotFound, err, "meeting not found")
	case errors.Is(err, session.ErrLabelNotFound):
		return errdefs.Wrap(errdefs.KindNotFound, err, "speaker not found in this meeting")
	case errors.Is(err, session.ErrNotPending):
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "speaker already resolved")
	default:
		return err
	}
}

// handleIdentify runs the identification pipeline over an uploaded
// recording, streaming progress as SSE. Rejections (busy device, bad
// upload) happen before the stream starts and use normal JSON errors.
func (s *Server) handleIdentify(c echo.Context) error {
	uploadPath, err := s.spoolUpload(c, "audio")
	if err != nil {
		return err
	}

	events, err := s.deps.Runner.Run(c.Request().Context(), deviceID(c), uploadPath)
	if err != nil {
		os.Remove(uploadPath)
		return err
	}
	return streamEvents(c, events, s.opts.HeartbeatInterval)
}

// handleMeeting returns the full session snapshot.
func (s *Server) handleMeeting(c echo.Context) error {
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return mapSessionErr(err)
	}
	return c.JSON(http.StatusOK, identify.Snapshot(sess))
}

// handleClip cuts and serves a short per-speaker audio sample. The file
// is removed after the response; a failed send is reclaimed with the
// session either way.
func (s *Server) handleClip(c echo.Context) error {
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return mapSessionErr(err)
	}
	if _, err := s.deps.Sessions.Speaker(sess.MeetingID, c.Param("sid")); err != nil {
		return mapSessionErr(err)
	}

	path, err := s.deps.Clips.Build(c.Request().Context(), sess, c.Param("sid"))
	if err != nil {
		return err
	}
	defer os.Remove(path)

	c.Response().Header().Set(echo.HeaderContentType, "audio/wav")
	return c.File(path)
}

// handleCleanup deletes a session on client request.
func (s *Server) handleCleanup(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.deps.Sessions.Get(id); err != nil {
		return mapSessionErr(err)
	}
	s.deps.Sessions.Delete(c.Request().Context(), id)
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "meeting_id": id})
}

// handleConfirmSpeaker records the user's decision for one ambiguous
// speaker. With enroll=true the stored embedding also updates the
// speaker's voiceprint, unless the sample was flagged low quality.
func (s *Server) handleConfirmSpeaker(c echo.Context) error {
	meetingID := c.FormValue("meeting_id")
	label := c.FormValue("speaker_id")
	name := c.FormValue("confirmed_name")
	enroll, _ := strconv.ParseBool(c.FormValue("enroll"))
	if meetingID == "" || label == "" || name == "" {
		return errdefs.E(errdefs.KindInvalidInput, "meeting_id, speaker_id and confirmed_name are required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Sessions.Get(meetingID)
	if err != nil {
		return mapSessionErr(err)
	}
	sp, err := s.deps.Sessions.Speaker(meetingID, label)
	if err != nil {
		return mapSessionErr(err)
	}

	if err := s.deps.Sessions.MarkHandled(meetingID, label, name); err != nil {
		return mapSessionErr(err)
	}

	enrolled := false
	totalSamples := 0
	if enroll && !sp.LowQuality {
		vec, ok := sess.SpeakerEmbeddings[label]
		if !ok {
			return errdefs.E(errdefs.KindInsufficientSpeech, "no usable voiceprint for this speaker")
		}
		totalSamples, err = s.deps.Registry.EnrollEmbedding(ctx, name, vec, 1)
		if err != nil {
			return err
		}
		enrolled = true
	}

	cleaned := s.deps.Sessions.CleanupIfComplete(ctx, meetingID)

	body := map[string]any{
		"ok":                 true,
		"speaker_id":         label,
		"confirmed_name":     name,
		"enrolled":           enrolled,
		"session_cleaned_up": cleaned,
	}
	if enrolled {
		body["total_samples"] = totalSamples
	}
	return c.JSON(http.StatusOK, body)
}

// handleEnrollFromMeeting enrolls an unrecognized meeting speaker under
// a new name using the embedding computed during identification.
func (s *Server) handleEnrollFromMeeting(c echo.Context) error {
	meetingID := c.FormValue("meeting_id")
	label := c.FormValue("speaker_id")
	name := c.FormValue("speaker_name")
	if meetingID == "" || label == "" || name == "" {
		return errdefs.E(errdefs.KindInvalidInput, "meeting_id, speaker_id and speaker_name are required")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Sessions.Get(meetingID)
	if err != nil {
		return mapSessionErr(err)
	}
	sp, err := s.deps.Sessions.Speaker(meetingID, label)
	if err != nil {
		return mapSessionErr(err)
	}
	if sp.LowQuality {
		return errdefs.E(errdefs.KindInsufficientSpeech,
			"this speaker's audio is too poor to enroll; record them directly instead")
	}
	vec, ok := sess.SpeakerEmbeddings[label]
	if !ok {
		return errdefs.E(errdefs.KindInsufficientSpeech, "no usable voiceprint for this speaker")
	}

	totalSamples, err := s.deps.Registry.EnrollEmbedding(ctx, name, vec, 1)
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.MarkHandled(meetingID, label, name); err != nil {
		return mapSessionErr(err)
	}

	s.deps.Emitter.Track(ctx, analytics.EventSpeakerEnrolled, deviceID(c),
		slog.String("speaker", name),
		slog.String("source", "meeting"),
	)

	cleaned := s.deps.Sessions.CleanupIfComplete(ctx, meetingID)
	return c.JSON(http.StatusOK, map[string]any{
		"ok":                 true,
		"speaker":            name,
		"total_samples":      totalSamples,
		"session_cleaned_up": cleaned,
	})
}
