package server

import (
	"sync"
	"sync/atomic"
	"time"

	"llmloadtest/internal/api"
	"llmloadtest/internal/utils"
)

// ProgressTracker follows a running sweep. It is the sweep's observer and the
// unit reporter handed to every session, so Add is called concurrently.
type ProgressTracker struct {
	JobID      string
	StartTime  time.Time
	TotalSteps int

	mutex              sync.Mutex
	currentStep        int
	currentBackend     api.Backend
	currentConcurrency int
	units              int64
	lastBroadcast      time.Time
	throttleInterval   time.Duration

	onProgress func(ProgressUpdate)
	onBatch    func(utils.Summary, ProgressUpdate)
}

// NewProgressTracker creates a tracker. onProgress receives throttled updates
// while a batch streams; onBatch fires once per finished batch.
func NewProgressTracker(jobID string, totalSteps int, onProgress func(ProgressUpdate), onBatch func(utils.Summary, ProgressUpdate)) *ProgressTracker {
	return &ProgressTracker{
		JobID:            jobID,
		StartTime:        time.Now(),
		TotalSteps:       totalSteps,
		throttleInterval: time.Second,
		onProgress:       onProgress,
		onBatch:          onBatch,
	}
}

func (pt *ProgressTracker) BatchStarted(backend api.Backend, numUsers int) api.UnitReporter {
	pt.mutex.Lock()
	pt.currentBackend = backend
	pt.currentConcurrency = numUsers
	atomic.StoreInt64(&pt.units, 0)
	pt.lastBroadcast = time.Now()
	update := pt.snapshotLocked()
	pt.mutex.Unlock()

	if pt.onProgress != nil {
		pt.onProgress(update)
	}
	return pt
}

func (pt *ProgressTracker) BatchFinished(summary utils.Summary) {
	pt.mutex.Lock()
	pt.currentStep++
	update := pt.snapshotLocked()
	pt.mutex.Unlock()

	if pt.onBatch != nil {
		pt.onBatch(summary, update)
	}
}

// Add records streamed units and publishes at most once per throttle interval.
func (pt *ProgressTracker) Add(n int) error {
	atomic.AddInt64(&pt.units, int64(n))

	pt.mutex.Lock()
	now := time.Now()
	if now.Sub(pt.lastBroadcast) < pt.throttleInterval {
		pt.mutex.Unlock()
		return nil
	}
	pt.lastBroadcast = now
	update := pt.snapshotLocked()
	pt.mutex.Unlock()

	if pt.onProgress != nil {
		pt.onProgress(update)
	}
	return nil
}

// GetProgress returns the current progress information
func (pt *ProgressTracker) GetProgress() ProgressUpdate {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	return pt.snapshotLocked()
}

func (pt *ProgressTracker) snapshotLocked() ProgressUpdate {
	elapsed := time.Since(pt.StartTime).Seconds()

	var progress, remaining float64
	if pt.TotalSteps > 0 {
		progress = float64(pt.currentStep) / float64(pt.TotalSteps) * 100
	}
	if pt.currentStep > 0 {
		remaining = elapsed / float64(pt.currentStep) * float64(pt.TotalSteps-pt.currentStep)
	}

	return ProgressUpdate{
		JobID:                  pt.JobID,
		Status:                 JobStatusRunning,
		CurrentBackend:         string(pt.currentBackend),
		CurrentConcurrency:     pt.currentConcurrency,
		Progress:               progress,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: remaining,
		CurrentStepNumber:      pt.currentStep,
		TotalSteps:             pt.TotalSteps,
		UnitsStreamed:          atomic.LoadInt64(&pt.units),
	}
}
