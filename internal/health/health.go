// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/pkg/provider/vectorstore"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "vectorstore", "ffmpeg"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StoreChecker probes the voiceprint index with a Ping.
func StoreChecker(store vectorstore.Store) Checker {
	return Checker{
		Name:  "vectorstore",
		Check: store.Ping,
	}
}

// BinaryChecker verifies that an external tool is resolvable on PATH.
func BinaryChecker(name string) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			_, err := exec.LookPath(name)
			return err
		},
	}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(c echo.Context) error {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, ck := range h.checkers {
		ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
		err := ck.Check(ctx)
		cancel()

		if err != nil {
			checks[ck.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[ck.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, res)
}

// Register adds the /healthz and /readyz routes to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}
