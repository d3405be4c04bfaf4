package server

import (
	"encoding/json"
	"time"

	"llmloadtest/internal/utils"
)

// WebSocket message types
const (
	MessageTypeProgress  = "progress"
	MessageTypeBatch     = "batch"
	MessageTypeError     = "error"
	MessageTypeComplete  = "complete"
	MessageTypeCancelled = "cancelled"
	MessageTypePing      = "ping"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string      `json:"type"`
	JobID     string      `json:"jobId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ProgressUpdate represents sweep progress information
type ProgressUpdate struct {
	JobID              string  `json:"jobId"`
	Status             string  `json:"status"`
	CurrentBackend     string  `json:"currentBackend,omitempty"`
	CurrentConcurrency int     `json:"currentConcurrency,omitempty"`
	Progress           float64 `json:"progress"`    // 0-100
	ElapsedTime        float64 `json:"elapsedTime"` // seconds
	// EstimatedTimeRemaining is extrapolated from finished batches.
	EstimatedTimeRemaining float64 `json:"estimatedTimeRemaining"`
	CurrentStepNumber      int     `json:"currentStepNumber"`
	TotalSteps             int     `json:"totalSteps"`
	// UnitsStreamed counts units seen so far in the current batch.
	UnitsStreamed int64 `json:"unitsStreamed"`
}

// ErrorMessage represents error information
type ErrorMessage struct {
	JobID   string `json:"jobId"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CompletionMessage represents sweep completion information
type CompletionMessage struct {
	JobID     string            `json:"jobId"`
	Status    string            `json:"status"`
	Results   utils.SweepResult `json:"results,omitempty"`
	Duration  float64           `json:"duration"` // seconds
	Completed time.Time         `json:"completed"`
}

// CancellationMessage represents sweep cancellation information
type CancellationMessage struct {
	JobID     string            `json:"jobId"`
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Partial   utils.SweepResult `json:"partial,omitempty"`
	Cancelled time.Time         `json:"cancelled"`
}

func newMessage(kind, jobID string, data interface{}) *WebSocketMessage {
	return &WebSocketMessage{
		Type:      kind,
		JobID:     jobID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// MessageForEvent converts a job event into the frame sent to websocket
// clients.
func MessageForEvent(ev JobEvent) *WebSocketMessage {
	job := ev.Job
	switch ev.Type {
	case MessageTypeComplete:
		completed := time.Now()
		if job.CompletedAt != nil {
			completed = *job.CompletedAt
		}
		return newMessage(MessageTypeComplete, job.ID, CompletionMessage{
			JobID:     job.ID,
			Status:    job.Status,
			Results:   job.Result,
			Duration:  completed.Sub(job.CreatedAt).Seconds(),
			Completed: completed,
		})
	case MessageTypeError:
		return newMessage(MessageTypeError, job.ID, ErrorMessage{
			JobID:   job.ID,
			Error:   "Load test failed",
			Message: job.Error,
		})
	case MessageTypeCancelled:
		cancelled := time.Now()
		if job.CompletedAt != nil {
			cancelled = *job.CompletedAt
		}
		return newMessage(MessageTypeCancelled, job.ID, CancellationMessage{
			JobID:     job.ID,
			Status:    job.Status,
			Message:   job.Message,
			Partial:   job.Result,
			Cancelled: cancelled,
		})
	case MessageTypeBatch:
		return newMessage(MessageTypeBatch, job.ID, ev.Summary)
	default:
		return newMessage(MessageTypeProgress, job.ID, job.Progress)
	}
}

// eventForJob builds the event describing a job's current state, used for
// the first frame a new subscriber receives.
func eventForJob(job Job) JobEvent {
	switch job.Status {
	case JobStatusCompleted:
		return JobEvent{Type: MessageTypeComplete, Job: job}
	case JobStatusFailed:
		return JobEvent{Type: MessageTypeError, Job: job}
	case JobStatusCancelled:
		return JobEvent{Type: MessageTypeCancelled, Job: job}
	default:
		return JobEvent{Type: MessageTypeProgress, Job: job}
	}
}

// ToJSON converts a WebSocket message to JSON bytes
func (m *WebSocketMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
