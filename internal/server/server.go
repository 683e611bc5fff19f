// Package server exposes the voxident HTTP API: enrollment, the
// SSE-streamed identification pipeline, meeting sessions with their
// clips and summaries, and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxident/internal/analytics"
	"github.com/MrWong99/voxident/internal/clip"
	"github.com/MrWong99/voxident/internal/errdefs"
	"github.com/MrWong99/voxident/internal/health"
	"github.com/MrWong99/voxident/internal/identify"
	"github.com/MrWong99/voxident/internal/observe"
	"github.com/MrWong99/voxident/internal/session"
	"github.com/MrWong99/voxident/internal/summary"
	"github.com/MrWong99/voxident/internal/voiceprint"
)

// deviceIDHeader carries the caller's opaque device identifier. Requests
// without it share the anonymous bucket for single-flight purposes.
const deviceIDHeader = "X-Device-ID"

// inviteCodeHeader gates sharing endpoints when an admin code is set.
const inviteCodeHeader = "X-Invite-Code"

// Deps are the wired services the HTTP layer delegates to.
type Deps struct {
	Registry   *voiceprint.Registry
	Runner     *identify.Runner
	Sessions   *session.Store
	Clips      *clip.Builder
	Summarizer *summary.Generator
	Slack      *summary.SlackNotifier
	Consent    *analytics.ConsentLog
	Emitter    *analytics.Emitter
	Health     *health.Handler
}

// Options tune transport behaviour.
type Options struct {
	// DataDir spools multipart uploads before the pipeline takes over.
	DataDir string

	// HeartbeatInterval is the SSE keep-alive cadence. Default 15 s.
	HeartbeatInterval time.Duration

	// AdminCode, when non-empty, locks the sharing endpoints behind a
	// matching X-Invite-Code header.
	AdminCode string
}

// Server is the voxident HTTP front end.
type Server struct {
	echo *echo.Echo
	deps Deps
	opts Options

	adminMu   sync.RWMutex
	adminCode string
}

// New builds the server with all routes registered.
func New(deps Deps, opts Options) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(observe.Middleware(observe.DefaultMetrics()))
	e.Use(middleware.Recover())

	s := &Server{echo: e, deps: deps, opts: opts, adminCode: opts.AdminCode}
	s.routes()
	return s
}

// SetAdminCode replaces the sharing-endpoint invite code. An empty code
// removes the gate.
func (s *Server) SetAdminCode(code string) {
	s.adminMu.Lock()
	s.adminCode = code
	s.adminMu.Unlock()
}

func (s *Server) currentAdminCode() string {
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()
	return s.adminCode
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.POST("/enroll", s.handleEnroll)
	api.POST("/enroll-from-meeting", s.handleEnrollFromMeeting)
	api.POST("/identify", s.handleIdentify)
	api.POST("/confirm-speaker", s.handleConfirmSpeaker)
	api.POST("/consent", s.handleConsent)

	api.GET("/meeting/:id", s.handleMeeting)
	api.GET("/meeting/:id/speaker/:sid/clip", s.handleClip)
	api.POST("/meeting/:id/cleanup", s.handleCleanup)
	api.POST("/meeting/:id/summary", s.handleGenerateSummary)
	api.GET("/meeting/:id/summary", s.handleGetSummary)
	api.POST("/meeting/:id/share/slack", s.handleShareSlack)

	api.GET("/speakers", s.handleListSpeakers)
	api.DELETE("/speakers/:name", s.handleDeleteSpeaker)
	api.POST("/speakers/sync", s.handleSyncSpeakers)

	if s.deps.Health != nil {
		s.deps.Health.Register(s.echo)
	}
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown or a fatal error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// deviceID extracts the caller's device bucket from the request.
func deviceID(c echo.Context) string {
	return c.Request().Header.Get(deviceIDHeader)
}

// errorHandler is the central mapping from errors to JSON responses.
// Error kinds pick the status code; unclassified errors collapse to a
// generic 500 message with the detail logged server-side.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Code >= http.StatusInternalServerError {
			observe.Logger(c.Request().Context()).Error("request failed", "error", err)
		}
		_ = c.JSON(he.Code, map[string]any{"message": msg})
		return
	}

	kind := errdefs.KindOf(err)
	if kind == errdefs.KindInternal {
		observe.Logger(c.Request().Context()).Error("request failed", "error", err)
	}
	_ = c.JSON(errdefs.HTTPStatus(kind), map[string]any{"message": errdefs.Message(err)})
}
