// handlers_parse.go - Parse session operation handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/models"
)

// ParseHandlerImpl serves the re-parse and parse progress endpoints.
type ParseHandlerImpl struct {
	registry     ReportRegistry
	pollInterval time.Duration
	streamLimit  time.Duration
}

// NewParseHandler creates a new parse handler instance
func NewParseHandler(registry ReportRegistry) ParseHandler {
	return &ParseHandlerImpl{
		registry:     registry,
		pollInterval: 100 * time.Millisecond,
		streamLimit:  5 * time.Minute,
	}
}

// HandleStartParse parses a stored file again in the background
func (h *ParseHandlerImpl) HandleStartParse(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	sess, err := h.registry.StartParse(id)
	if err != nil {
		return NewParseError(id, err)
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleParseStatus returns the current status of a parsing session
func (h *ParseHandlerImpl) HandleParseStatus(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	sess, ok := h.registry.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	return c.JSON(http.StatusOK, sess)
}

// HandleParseProgressStream pushes the session state as server-sent events
// until the parse finishes, the client goes away or streamLimit passes.
func (h *ParseHandlerImpl) HandleParseProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	events := newEventStream(c.Response())

	// poll reports whether the stream should continue
	poll := func() bool {
		sess, ok := h.registry.GetSession(id)
		if !ok {
			events.fail("session not found")
			return false
		}
		events.send(sess)
		return !finished(sess)
	}
	if !poll() {
		return nil
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	deadline := time.After(h.streamLimit)

	for {
		select {
		case <-ticker.C:
			if !poll() {
				return nil
			}
		case <-deadline:
			events.fail("stream timeout")
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func finished(sess *models.ParseSession) bool {
	switch sess.Status {
	case models.SessionStatusComplete, models.SessionStatusError:
		return true
	}
	return false
}

// eventStream writes JSON payloads as SSE data frames.
type eventStream struct {
	res *echo.Response
}

func newEventStream(res *echo.Response) *eventStream {
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	return &eventStream{res: res}
}

func (s *eventStream) send(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	fmt.Fprintf(s.res, "data: %s\n\n", payload)
	s.res.Flush()
}

func (s *eventStream) fail(msg string) {
	s.send(map[string]string{"error": msg})
}
