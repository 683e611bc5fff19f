package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/voxident/internal/identify"
)

// streamEvents relays a job's events to the client as server-sent
// events, interleaving heartbeat comments so idle reverse-proxy windows
// stay open during long stages. Returns once the stream closes or the
// client goes away; the job itself aborts through request-context
// cancellation, not through this function.
func streamEvents(c echo.Context, events <-chan identify.Event, heartbeat time.Duration) error {
	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	ctx := c.Request().Context()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(res, ev); err != nil {
				return nil // client gone; the job sees it through ctx
			}
			ticker.Reset(heartbeat)
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// writeEvent renders one SSE frame and flushes it immediately.
func writeEvent(res *echo.Response, ev identify.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("server: marshal %s event: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
