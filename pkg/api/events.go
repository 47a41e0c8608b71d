package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

const defaultHeartbeat = 25 * time.Second

// EventSource delivers the progress events of one session
type EventSource interface {
	Subscribe(sessionID string) (<-chan domain.ProgressEvent, func())
}

// EventsHandler streams progress events over server-sent events
type EventsHandler struct {
	research  ResearchService
	events    EventSource
	heartbeat time.Duration
	logger    *observability.StructuredLogger
}

// NewEventsHandler creates an events handler. A non-positive heartbeat
// selects the default interval.
func NewEventsHandler(research ResearchService, events EventSource, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{
		research:  research,
		events:    events,
		heartbeat: heartbeat,
		logger:    observability.NewStructuredLogger("api"),
	}
}

// Stream sends a snapshot of the session followed by its progress events.
// The stream ends once every provider has reached a terminal state or the
// client goes away.
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not configured"})
		return
	}

	// Subscribe before the snapshot so nothing falls between the two.
	events, unsubscribe := h.events.Subscribe(sessionID)
	defer unsubscribe()

	status, err := h.research.Status(ctx, sessionID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	open := make(map[domain.ProviderID]struct{})
	for _, task := range status.Tasks {
		if !task.Status.IsTerminal() {
			open[task.Provider] = struct{}{}
		}
	}

	sseWrite(c.Writer, "snapshot", StatusResponse{
		SessionResponse: ToSessionResponse(status.Session),
		Tasks:           ToTaskResponses(status.Tasks, false),
	})
	flusher.Flush()

	if len(open) == 0 {
		sseWrite(c.Writer, "done", gin.H{"session_id": sessionID})
		flusher.Flush()
		return
	}

	finish := func() {
		sseWrite(c.Writer, "done", gin.H{"session_id": sessionID})
		flusher.Flush()
		h.logger.Debug(ctx, "Event stream finished", map[string]interface{}{
			"session_id": sessionID,
		})
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()

			// A slow subscriber may have lost a terminal event.
			if h.settled(c, sessionID) {
				finish()
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			sseWrite(c.Writer, event.Type, event)
			flusher.Flush()

			if event.IsTerminal() {
				delete(open, event.Provider)
				if len(open) == 0 {
					finish()
					return
				}
			}
		}
	}
}

// settled reports whether every provider task of the session is terminal
func (h *EventsHandler) settled(c *gin.Context, sessionID string) bool {
	status, err := h.research.Status(c.Request.Context(), sessionID)
	if err != nil {
		return false
	}
	for _, task := range status.Tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
