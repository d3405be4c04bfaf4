package server

import (
	"time"

	"llmloadtest/internal/api"
	"llmloadtest/internal/utils"
)

// TestRequest is the payload of POST /api/test and /api/test/async. Zero
// fields fall back to the server configuration.
type TestRequest struct {
	UserCounts []int    `json:"user_counts"`
	Prompt     string   `json:"prompt"`
	Backends   []string `json:"backends,omitempty"`
	MaxTokens  int      `json:"max_tokens,omitempty"`
}

// BackendStatus reports whether each backend answered its probe.
type BackendStatus map[api.Backend]bool

// ModelsResponse lists the models each backend advertises.
type ModelsResponse struct {
	Models map[api.Backend][]string `json:"models"`
	Errors map[api.Backend]string   `json:"errors,omitempty"`
}

// ExportRequest is a sweep result posted back for download.
type ExportRequest struct {
	Results    utils.SweepResult       `json:"results" binding:"required"`
	Comparison []utils.LevelComparison `json:"comparison,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	ActiveJobs int       `json:"activeJobs"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
