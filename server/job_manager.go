package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"llmloadtest/internal/api"
	"llmloadtest/internal/logger"
	"llmloadtest/internal/utils"
)

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is an asynchronous sweep. Result fills in batch by batch, so a cancelled
// job still carries what was measured before cancellation.
type Job struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Progress    ProgressUpdate    `json:"progress"`
	Result      utils.SweepResult `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Request     TestRequest       `json:"request"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`

	cancel context.CancelFunc
}

// Terminal reports whether the job will receive no further updates.
func (j Job) Terminal() bool {
	return j.Status != JobStatusRunning
}

// JobEvent is what listeners receive. Summary is set only for batch events.
type JobEvent struct {
	Type    string
	Job     Job
	Summary *utils.Summary
}

// JobManager keeps jobs in memory and fans their updates out to listeners.
type JobManager struct {
	jobs           map[string]*Job
	listeners      map[string][]chan JobEvent
	activeJobCount int
	mutex          sync.RWMutex
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*Job),
		listeners: make(map[string][]chan JobEvent),
	}
}

// CreateJob registers a running job and returns its ID.
func (jm *JobManager) CreateJob(request TestRequest) string {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	jobID := uuid.New().String()
	jm.jobs[jobID] = &Job{
		ID:        jobID,
		Status:    JobStatusRunning,
		Message:   "Starting load test...",
		Result:    utils.SweepResult{},
		Request:   request,
		CreatedAt: time.Now(),
	}
	jm.activeJobCount++

	logger.AppLogger.InfoWithFields("Job created", map[string]interface{}{
		"jobId":      jobID,
		"activeJobs": jm.activeJobCount,
	})
	return jobID
}

// GetJob returns a snapshot of the job.
func (jm *JobManager) GetJob(jobID string) (Job, bool) {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of every job, oldest first.
func (jm *JobManager) ListJobs() []Job {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// RunJob executes sweep for jobID and blocks until it ends or is cancelled.
// A job cancelled before RunJob starts never sends a request.
func (jm *JobManager) RunJob(jobID string, sweep *utils.Sweep) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jm.mutex.Lock()
	job, exists := jm.jobs[jobID]
	if !exists {
		jm.mutex.Unlock()
		logger.AppLogger.ErrorWithContext(&logger.LogContext{JobID: jobID}, "Job not found for execution")
		return
	}
	if job.Status != JobStatusRunning {
		// Cancelled before the sweep got going.
		jm.mutex.Unlock()
		logger.AppLogger.InfoWithContext(&logger.LogContext{JobID: jobID}, "Job no longer running (status: %s), skipping sweep", job.Status)
		return
	}
	job.cancel = cancel
	jm.mutex.Unlock()

	sweep.Observer = NewProgressTracker(jobID, sweep.Steps(),
		func(p ProgressUpdate) { jm.updateProgress(jobID, p) },
		func(s utils.Summary, p ProgressUpdate) { jm.recordBatch(jobID, s, p) },
	)

	logger.AppLogger.InfoWithContext(&logger.LogContext{JobID: jobID, Operation: "sweep"},
		"Running %d batches", sweep.Steps())

	result, err := sweep.Run(ctx)
	switch {
	case err == nil:
		jm.finishJob(jobID, JobStatusCompleted, "Load test completed successfully", result, "")
	case errors.Is(err, context.Canceled):
		jm.finishJob(jobID, JobStatusCancelled, "Job cancelled by user", result, "")
	default:
		jm.finishJob(jobID, JobStatusFailed, "Load test failed", result, err.Error())
	}
}

// CancelJob stops a running job. The sweep notices between batches.
func (jm *JobManager) CancelJob(jobID string) bool {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		logger.AppLogger.ErrorWithContext(&logger.LogContext{JobID: jobID}, "Job not found for cancellation")
		return false
	}
	if job.Status != JobStatusRunning {
		logger.AppLogger.WarnWithContext(&logger.LogContext{JobID: jobID}, "Job cannot be cancelled (status: %s)", job.Status)
		return false
	}

	if job.cancel != nil {
		job.cancel()
	}
	jm.markDoneLocked(job, JobStatusCancelled, "Job cancelled by user", "")
	logger.AppLogger.InfoWithFields("Job cancelled", map[string]interface{}{
		"jobId":      jobID,
		"activeJobs": jm.activeJobCount,
	})
	jm.broadcastLocked(JobEvent{Type: MessageTypeCancelled, Job: job.snapshot()})
	return true
}

func (jm *JobManager) updateProgress(jobID string, p ProgressUpdate) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists || job.Status != JobStatusRunning {
		return
	}
	job.Progress = p
	job.Message = fmt.Sprintf("Testing %s with %d users", p.CurrentBackend, p.CurrentConcurrency)
	jm.broadcastLocked(JobEvent{Type: MessageTypeProgress, Job: job.snapshot()})
}

func (jm *JobManager) recordBatch(jobID string, s utils.Summary, p ProgressUpdate) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return
	}
	job.Result[s.Backend] = append(job.Result[s.Backend], s)
	if job.Status != JobStatusRunning {
		return
	}
	job.Progress = p
	summary := s
	jm.broadcastLocked(JobEvent{Type: MessageTypeBatch, Job: job.snapshot(), Summary: &summary})
}

func (jm *JobManager) finishJob(jobID, status, message string, result utils.SweepResult, errMsg string) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return
	}
	if result != nil {
		job.Result = result
	}
	if job.Status != JobStatusRunning {
		// Already cancelled; keep the partial result.
		return
	}

	jm.markDoneLocked(job, status, message, errMsg)
	if status == JobStatusCompleted {
		job.Progress.Progress = 100
	}

	fields := map[string]interface{}{
		"jobId":      jobID,
		"status":     status,
		"activeJobs": jm.activeJobCount,
	}
	if status == JobStatusFailed {
		fields["error"] = errMsg
		logger.AppLogger.ErrorWithFields("Job failed", fields)
	} else {
		logger.AppLogger.InfoWithFields("Job finished", fields)
	}

	eventType := MessageTypeComplete
	switch status {
	case JobStatusFailed:
		eventType = MessageTypeError
	case JobStatusCancelled:
		eventType = MessageTypeCancelled
	}
	jm.broadcastLocked(JobEvent{Type: eventType, Job: job.snapshot()})
}

func (jm *JobManager) markDoneLocked(job *Job, status, message, errMsg string) {
	job.Status = status
	job.Message = message
	job.Progress.Status = status
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	if jm.activeJobCount > 0 {
		jm.activeJobCount--
	}
}

// RegisterListener subscribes to a job's updates.
func (jm *JobManager) RegisterListener(jobID string) chan JobEvent {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	ch := make(chan JobEvent, 16)
	jm.listeners[jobID] = append(jm.listeners[jobID], ch)
	return ch
}

// UnregisterListener removes and closes ch.
func (jm *JobManager) UnregisterListener(jobID string, ch chan JobEvent) {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	listeners := jm.listeners[jobID]
	for i, l := range listeners {
		if l == ch {
			jm.listeners[jobID] = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}
	if len(jm.listeners[jobID]) == 0 {
		delete(jm.listeners, jobID)
	}
}

// broadcastLocked never blocks. Progress events may be dropped for a slow
// listener; terminal events replace the oldest queued event instead.
func (jm *JobManager) broadcastLocked(ev JobEvent) {
	for _, ch := range jm.listeners[ev.Job.ID] {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !ev.Job.Terminal() {
			logger.AppLogger.WarnWithContext(&logger.LogContext{JobID: ev.Job.ID}, "Listener channel full, skipping update")
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// GetActiveJobCount returns the number of currently running jobs
func (jm *JobManager) GetActiveJobCount() int {
	jm.mutex.RLock()
	defer jm.mutex.RUnlock()
	return jm.activeJobCount
}

// CleanupOldJobs drops finished jobs older than maxAge.
func (jm *JobManager) CleanupOldJobs(maxAge time.Duration) int {
	jm.mutex.Lock()
	defer jm.mutex.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range jm.jobs {
		if job.Status != JobStatusRunning && job.CreatedAt.Before(cutoff) {
			delete(jm.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		logger.AppLogger.Info("Cleaned up %d old jobs", removed)
	}
	return removed
}

func (j *Job) snapshot() Job {
	c := *j
	c.cancel = nil
	c.Result = make(utils.SweepResult, len(j.Result))
	for b, summaries := range j.Result {
		c.Result[b] = append([]utils.Summary(nil), summaries...)
	}
	return c
}

// backendOrder lists the backends present in result, known ones first.
func backendOrder(result utils.SweepResult) []api.Backend {
	var order []api.Backend
	for _, b := range api.Backends {
		if _, ok := result[b]; ok {
			order = append(order, b)
		}
	}
	var extra []api.Backend
	for b := range result {
		if _, err := api.ProtocolFor(b); err != nil {
			extra = append(extra, b)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}
