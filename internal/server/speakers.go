package server

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"log/slog"

	"github.com/MrWong99/voxident/internal/analytics"
)

// speakerEntry is one enrolled name in the list response.
type speakerEntry struct {
	Name    string `json:"name"`
	Samples int    `json:"samples"`
}

// handleEnroll registers or updates a voiceprint from an uploaded
// recording. Multipart fields: name, audio.
func (s *Server) handleEnroll(c echo.Context) error {
	name := c.FormValue("name")
	audioPath, err := s.spoolUpload(c, "audio")
	if err != nil {
		return err
	}
	defer os.Remove(audioPath)

	res, err := s.deps.Registry.Enroll(c.Request().Context(), name, audioPath, 0)
	if err != nil {
		return err
	}

	s.deps.Emitter.Track(c.Request().Context(), analytics.EventSpeakerEnrolled, deviceID(c),
		slog.String("speaker", res.Name),
		slog.String("source", "upload"),
	)

	body := map[string]any{
		"ok":            true,
		"speaker":       res.Name,
		"total_samples": res.SampleCount,
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	return c.JSON(http.StatusOK, body)
}

// handleListSpeakers returns every enrolled name with its sample count.
func (s *Server) handleListSpeakers(c echo.Context) error {
	records, err := s.deps.Registry.List(c.Request().Context())
	if err != nil {
		return err
	}
	speakers := make([]speakerEntry, 0, len(records))
	for _, rec := range records {
		speakers = append(speakers, speakerEntry{Name: rec.Name, Samples: rec.SampleCount})
	}
	return c.JSON(http.StatusOK, map[string]any{"speakers": speakers})
}

// handleDeleteSpeaker removes one enrolled voiceprint.
func (s *Server) handleDeleteSpeaker(c echo.Context) error {
	name := c.Param("name")
	if err := s.deps.Registry.Delete(c.Request().Context(), name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "deleted": name})
}

// handleSyncSpeakers rebuilds the local mirror from the vector store.
func (s *Server) handleSyncSpeakers(c echo.Context) error {
	count, err := s.deps.Registry.SyncFromStore(c.Request().Context())
	if err != nil {
		return err
	}
	records, err := s.deps.Registry.List(c.Request().Context())
	if err != nil {
		return err
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Name)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "count": count, "speakers": names})
}
