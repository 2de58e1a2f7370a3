package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	oerr "oape/internal/errors"
	"oape/internal/logging"
	"oape/internal/observability"
	"oape/internal/server/app"
	"oape/internal/server/ports"
)

// APIHandler serves the JSON endpoints and the submission form.
type APIHandler struct {
	orch    *app.Orchestrator
	metrics *observability.Metrics
	logger  logging.Logger
}

// NewAPIHandler creates the handler.
func NewAPIHandler(orch *app.Orchestrator, metrics *observability.Metrics) *APIHandler {
	return &APIHandler{
		orch:    orch,
		metrics: metrics,
		logger:  logging.NewComponentLogger("api"),
	}
}

// statusResponse mirrors the job record for polling clients.
type statusResponse struct {
	Status       ports.JobStatus `json:"status"`
	Command      string          `json:"command"`
	WorkingDir   string          `json:"working_dir"`
	Output       string          `json:"output"`
	Error        string          `json:"error,omitempty"`
	MessageCount int             `json:"message_count"`
	Iterations   int             `json:"iterations"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
}

func statusOf(job *ports.Job) statusResponse {
	return statusResponse{
		Status:       job.Status,
		Command:      job.Input.Command,
		WorkingDir:   job.Input.WorkingDir,
		Output:       job.Result,
		Error:        job.Error,
		MessageCount: len(job.History),
		Iterations:   job.Iterations,
		InputTokens:  job.Usage.PromptTokens,
		OutputTokens: job.Usage.CompletionTokens,
	}
}

// HandleSubmit accepts a job submission (form or JSON) and returns its ID.
func (h *APIHandler) HandleSubmit(c *gin.Context) {
	var req app.SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		h.abortWithError(c, oerr.Wrap(oerr.KindInvalidInput, err, "invalid submission"))
		return
	}

	job, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.JobsSubmitted.WithLabelValues(req.Command).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID})
}

// HandleStatus reports the state of a job.
func (h *APIHandler) HandleStatus(c *gin.Context) {
	job, err := h.orch.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusOf(job))
}

// HandleCancel cancels a running job.
func (h *APIHandler) HandleCancel(c *gin.Context) {
	if err := h.orch.Cancel(c.Request.Context(), c.Param("job_id")); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// HandleCommands lists the command catalog.
func (h *APIHandler) HandleCommands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.orch.Commands()})
}

// HandleRun runs a job synchronously and returns its final output.
func (h *APIHandler) HandleRun(c *gin.Context) {
	var req app.SubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		h.abortWithError(c, oerr.Wrap(oerr.KindInvalidInput, err, "invalid request"))
		return
	}

	if h.metrics != nil {
		h.metrics.JobsSubmitted.WithLabelValues(req.Command).Inc()
	}

	job, err := h.orch.Run(c.Request.Context(), req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if job.Status != ports.JobStatusCompleted {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": job.Error})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"job_id":        job.ID,
		"output":        job.Result,
		"input_tokens":  job.Usage.PromptTokens,
		"output_tokens": job.Usage.CompletionTokens,
	})
}

// HandleListJobs returns job snapshots, newest first.
func (h *APIHandler) HandleListJobs(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	jobs, total, err := h.orch.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	summaries := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, gin.H{
			"job_id":     job.ID,
			"status":     job.Status,
			"command":    job.Input.Command,
			"created_at": job.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": summaries, "total": total})
}

// abortWithError maps error kinds onto HTTP statuses.
func (h *APIHandler) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch oerr.KindOf(err) {
	case oerr.KindInvalidInput, oerr.KindInvalidWorkingDir:
		status = http.StatusBadRequest
	case oerr.KindNotFound:
		status = http.StatusNotFound
	case oerr.KindUpstreamError:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		h.logger.Warn("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw, ok := c.GetQuery(name)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
