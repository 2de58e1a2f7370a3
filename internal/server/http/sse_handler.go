package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	agentports "oape/internal/agent/ports"
	"oape/internal/logging"
	"oape/internal/observability"
	"oape/internal/server/app"
)

const heartbeatInterval = 15 * time.Second

// SSEHandler streams job events over Server-Sent Events.
type SSEHandler struct {
	orch    *app.Orchestrator
	metrics *observability.Metrics
	logger  logging.Logger
}

// NewSSEHandler creates the handler.
func NewSSEHandler(orch *app.Orchestrator, metrics *observability.Metrics) *SSEHandler {
	return &SSEHandler{
		orch:    orch,
		metrics: metrics,
		logger:  logging.NewComponentLogger("sse"),
	}
}

// HandleStream replays the job's event history, then streams live events
// until the terminal event or client disconnect. Wire format per event:
//
//	event: turn|status
//	data: <JobEvent JSON>
//
// A final "complete" event carries the job summary after the terminal status.
func (h *SSEHandler) HandleStream(c *gin.Context) {
	jobID := c.Param("job_id")

	replay, events, cancel, err := h.orch.Subscribe(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	}
	defer cancel()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
		defer h.metrics.StreamClients.Dec()
	}
	h.logger.Info("SSE client connected to job %s (replay=%d)", jobID, len(replay))

	for _, event := range replay {
		if !h.writeEvent(c, event) {
			return
		}
		if event.Terminal() {
			h.writeComplete(c, jobID)
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			if !h.writeEvent(c, event) {
				return
			}
			flusher.Flush()
			if event.Terminal() {
				h.writeComplete(c, jobID)
				flusher.Flush()
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-c.Request.Context().Done():
			h.logger.Info("SSE client disconnected from job %s", jobID)
			return
		}
	}
}

func (h *SSEHandler) writeEvent(c *gin.Context, event agentports.JobEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event seq=%d: %v", event.Seq, err)
		return true
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return false
	}
	return true
}

// writeComplete emits the final job summary so clients need no extra status
// poll after the stream ends.
func (h *SSEHandler) writeComplete(c *gin.Context, jobID string) {
	job, err := h.orch.GetJob(c.Request.Context(), jobID)
	if err != nil {
		// evicted between terminal event and summary
		fmt.Fprintf(c.Writer, "event: complete\ndata: {\"job_id\":%q}\n\n", jobID)
		return
	}

	data, err := json.Marshal(gin.H{
		"job_id":        job.ID,
		"status":        job.Status,
		"output":        job.Result,
		"error":         job.Error,
		"input_tokens":  job.Usage.PromptTokens,
		"output_tokens": job.Usage.CompletionTokens,
	})
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: complete\ndata: %s\n\n", data)
}
