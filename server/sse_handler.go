package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"llmloadtest/internal/logger"
)

const keepAliveInterval = 30 * time.Second

// StreamJobHandler streams job events as Server-Sent Events until the job
// reaches a terminal state or the client goes away.
func (h *Handlers) StreamJobHandler(c *gin.Context) {
	jobID := c.Param("jobId")

	// Subscribe before reading the snapshot so no transition is missed.
	updates := h.Jobs.RegisterListener(jobID)
	defer h.Jobs.UnregisterListener(jobID, updates)

	job, exists := h.Jobs.GetJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	send := func(ev JobEvent) {
		if ev.Type == MessageTypeBatch {
			c.SSEvent(ev.Type, ev.Summary)
		} else {
			c.SSEvent(ev.Type, ev.Job)
		}
		c.Writer.Flush()
	}

	send(eventForJob(job))
	if job.Terminal() {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.AppLogger.InfoWithContext(&logger.LogContext{JobID: jobID}, "SSE connection closed for job")
			return
		case <-ticker.C:
			c.SSEvent(MessageTypePing, gin.H{"timestamp": time.Now().Format(time.RFC3339)})
			c.Writer.Flush()
		case ev, ok := <-updates:
			if !ok {
				return
			}
			send(ev)
			if ev.Job.Terminal() {
				return
			}
		}
	}
}
