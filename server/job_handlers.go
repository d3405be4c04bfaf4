package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"llmloadtest/internal/logger"
)

// StartTestHandler starts a sweep in the background and returns its job ID.
func (h *Handlers) StartTestHandler(c *gin.Context) {
	req, ok := bindTestRequest(c)
	if !ok {
		return
	}
	sweep, err := h.buildSweep(req)
	if err != nil {
		badConfig(c, err)
		return
	}

	jobID := h.Jobs.CreateJob(req)
	go h.Jobs.RunJob(jobID, sweep)
	logger.AppLogger.InfoWithContext(&logger.LogContext{JobID: jobID}, "Started asynchronous load test")

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":   jobID,
		"message": "Load test job started successfully",
		"status":  JobStatusRunning,
		"sse":     "/api/jobs/" + jobID + "/stream",
		"ws":      "/api/jobs/" + jobID + "/ws",
	})
}

// GetJobHandler returns the current state of a job
func (h *Handlers) GetJobHandler(c *gin.Context) {
	job, exists := h.Jobs.GetJob(c.Param("jobId"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobsHandler returns all jobs
func (h *Handlers) ListJobsHandler(c *gin.Context) {
	jobs := h.Jobs.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJobHandler cancels a running job
func (h *Handlers) CancelJobHandler(c *gin.Context) {
	jobID := c.Param("jobId")
	logger.AppLogger.InfoWithContext(&logger.LogContext{JobID: jobID}, "Received cancellation request for job")

	if !h.Jobs.CancelJob(jobID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Job not found or not cancellable",
			"jobId":  jobID,
			"status": "not_found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled successfully",
		"jobId":   jobID,
		"status":  JobStatusCancelled,
	})
}
