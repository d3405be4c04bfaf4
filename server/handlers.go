package server

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
	"llmloadtest/internal/logger"
	"llmloadtest/internal/utils"
)

const version = "1.0.0"

// Handlers serves the HTTP API. Config holds the server-wide defaults every
// request starts from.
type Handlers struct {
	Config     *config.Config
	Runner     api.SessionRunner
	HTTPClient *http.Client
	Jobs       *JobManager
}

// NewHandlers wires handlers to a config and a session runner.
func NewHandlers(cfg *config.Config, runner api.SessionRunner, httpClient *http.Client) *Handlers {
	if runner == nil {
		runner = api.NewClient(httpClient)
	}
	return &Handlers{
		Config:     cfg,
		Runner:     runner,
		HTTPClient: httpClient,
		Jobs:       NewJobManager(),
	}
}

// HealthHandler returns server health status
func (h *Handlers) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    version,
		ActiveJobs: h.Jobs.GetActiveJobCount(),
		Timestamp:  time.Now(),
	})
}

// StatusHandler probes every known backend.
func (h *Handlers) StatusHandler(c *gin.Context) {
	status := make(BackendStatus, len(api.Backends))
	for _, b := range api.Backends {
		bc, _ := h.Config.Backend(b)
		status[b] = bc.URL != "" &&
			api.Probe(c.Request.Context(), h.HTTPClient, b, bc.URL, bc.APIKey, h.Config.StatusTimeout)
	}
	c.JSON(http.StatusOK, status)
}

// ModelsHandler lists what each configured backend serves.
func (h *Handlers) ModelsHandler(c *gin.Context) {
	resp := ModelsResponse{
		Models: make(map[api.Backend][]string),
		Errors: make(map[api.Backend]string),
	}
	for _, b := range h.Config.Backends {
		bc, _ := h.Config.Backend(b)
		models, err := api.ListModels(c.Request.Context(), h.HTTPClient, b, bc.URL, bc.APIKey)
		if err != nil {
			resp.Errors[b] = err.Error()
			continue
		}
		resp.Models[b] = models
	}
	if len(resp.Errors) == 0 {
		resp.Errors = nil
	}
	c.JSON(http.StatusOK, resp)
}

// buildSweep applies a request on top of the server config and validates it.
func (h *Handlers) buildSweep(req TestRequest) (*utils.Sweep, error) {
	cfg := *h.Config
	if req.UserCounts != nil {
		cfg.UserCounts = req.UserCounts
	}
	if req.Prompt != "" {
		cfg.Prompt = req.Prompt
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if len(req.Backends) > 0 {
		cfg.Backends = make([]api.Backend, 0, len(req.Backends))
		for _, name := range req.Backends {
			b, err := api.ParseBackend(name)
			if err != nil {
				return nil, err
			}
			cfg.Backends = append(cfg.Backends, b)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return utils.NewSweep(&cfg, h.Runner), nil
}

func bindTestRequest(c *gin.Context) (TestRequest, bool) {
	var req TestRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return req, false
	}
	return req, true
}

func badConfig(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid Configuration",
		Message: err.Error(),
		Code:    http.StatusBadRequest,
	})
}

// RunTestHandler runs a full sweep and answers with the result. It blocks for
// the whole sweep; a client disconnect stops it between batches.
func (h *Handlers) RunTestHandler(c *gin.Context) {
	req, ok := bindTestRequest(c)
	if !ok {
		return
	}
	sweep, err := h.buildSweep(req)
	if err != nil {
		badConfig(c, err)
		return
	}

	logger.AppLogger.InfoWithFields("Synchronous load test started", map[string]interface{}{
		"levels":   sweep.Levels,
		"backends": len(sweep.Targets),
	})

	result, err := sweep.Run(c.Request.Context())
	if err != nil {
		logger.AppLogger.Warn("Synchronous load test aborted: %v", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Aborted",
			Message: err.Error(),
			Code:    http.StatusServiceUnavailable,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportJSONHandler exports results as JSON file
func (h *Handlers) ExportJSONHandler(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return
	}
	if req.Comparison == nil {
		req.Comparison = utils.Compare(req.Results, backendOrder(req.Results))
	}

	filename := fmt.Sprintf("loadtest_results_%s.json", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.JSON(http.StatusOK, req)
}

// ExportCSVHandler exports results as CSV file
func (h *Handlers) ExportCSVHandler(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Bad Request",
			Message: fmt.Sprintf("Invalid request payload: %v", err),
			Code:    http.StatusBadRequest,
		})
		return
	}

	data, err := generateCSV(req.Results)
	if err != nil {
		c.Error(err)
		return
	}

	filename := fmt.Sprintf("loadtest_results_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "text/csv", data)
}

// generateCSV writes one row per summary followed by the per-level comparison.
func generateCSV(result utils.SweepResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	order := backendOrder(result)
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

	w.Write([]string{"Backend", "Users", "Tokens/s", "Avg Latency (s)", "P95 Latency (s)", "P99 Latency (s)", "Success Rate (%)", "Total Tokens", "Total Time (s)"})
	for _, b := range order {
		for _, s := range result[b] {
			w.Write([]string{
				string(b),
				strconv.Itoa(s.NumUsers),
				f(s.TokensPerSecond),
				f(s.AvgLatency),
				f(s.P95Latency),
				f(s.P99Latency),
				f(s.SuccessRate),
				strconv.Itoa(s.TotalTokens),
				f(s.TotalTime),
			})
		}
	}

	if len(order) > 1 {
		w.Write(nil)
		w.Write([]string{"Users", "Winner", "Speedup"})
		for _, lc := range utils.Compare(result, order) {
			w.Write([]string{strconv.Itoa(lc.NumUsers), string(lc.Winner), f(lc.Speedup)})
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}
