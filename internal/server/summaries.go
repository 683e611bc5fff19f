package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/identify"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/internal/summary"
)

// handleGenerateSummary produces (or regenerates) the meeting summary.
func (s *Server) handleGenerateSummary(c echo.Context) error {
	if s.deps.Summarizer == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "summary generation is not configured")
	}
	ctx := c.Request().Context()
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return mapSessionErr(err)
	}

	snap := identify.Snapshot(sess)
	lines := make([]summary.Line, 0, len(snap.Utterances))
	for _, u := range snap.Utterances {
		lines = append(lines, summary.Line{Speaker: u.SpeakerName, Text: u.Text})
	}

	start := time.Now()
	sum, err := s.deps.Summarizer.Generate(ctx, lines)
	observe.DefaultMetrics().SummaryDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if err := s.deps.Sessions.SetSummary(sess.MeetingID, sum); err != nil {
		return mapSessionErr(err)
	}

	s.deps.Emitter.Track(ctx, analytics.EventSummaryGenerated, deviceID(c),
		slog.String("meeting_id", sess.MeetingID),
		slog.Int("utterances", len(lines)),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"ok":         true,
		"meeting_id": sess.MeetingID,
		"summary":    sum,
	})
}

// handleGetSummary returns the cached summary, if one was generated.
func (s *Server) handleGetSummary(c echo.Context) error {
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return mapSessionErr(err)
	}
	if sess.Summary == nil {
		return errdefs.E(errdefs.KindNotFound, "no summary generated for this meeting")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":         true,
		"meeting_id": sess.MeetingID,
		"summary":    sess.Summary,
	})
}

// handleShareSlack posts the cached summary to the configured Slack
// webhook. Optionally admin-gated through the invite-code header.
func (s *Server) handleShareSlack(c echo.Context) error {
	if code := s.currentAdminCode(); code != "" && c.Request().Header.Get(inviteCodeHeader) != code {
		return echo.NewHTTPError(http.StatusForbidden, "invalid invite code")
	}
	if s.deps.Slack == nil || !s.deps.Slack.Configured() {
		return echo.NewHTTPError(http.StatusNotImplemented, "slack sharing is not configured")
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		return mapSessionErr(err)
	}
	if sess.Summary == nil {
		return errdefs.E(errdefs.KindInvalidInput, "generate a summary before sharing")
	}

	if err := s.deps.Slack.Send(ctx, sess.Summary, sess.AudioDurationMS, sess.CreatedAt); err != nil {
		return err
	}

	s.deps.Emitter.Track(ctx, analytics.EventShareSlack, deviceID(c),
		slog.String("meeting_id", sess.MeetingID),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Summary shared to Slack",
	})
}

// handleConsent records a consent acknowledgement.
func (s *Server) handleConsent(c echo.Context) error {
	var body struct {
		Type    string `json:"type"`
		Version string `json:"version"`
	}
	// The body is optional; defaults cover an empty post.
	_ = c.Bind(&body)
	if body.Type == "" {
		body.Type = "biometric"
	}
	if body.Version == "" {
		body.Version = "1.0"
	}

	rec := analytics.ConsentRecord{
		DeviceID: deviceID(c),
		Type:     body.Type,
		Version:  body.Version,
	}
	if err := s.deps.Consent.Append(rec); err != nil {
		return err
	}
	s.deps.Emitter.Track(c.Request().Context(), analytics.EventConsentAccepted, deviceID(c),
		slog.String("type", rec.Type),
		slog.String("version", rec.Version),
	)
	return c.JSON(http.StatusOK, map[string]any{"accepted": true})
}
