package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llmloadtest/internal/logger"
)

// Outcome is the result of one session. Failed sessions keep whatever unit
// count was decoded before the failure and the time spent until it.
type Outcome struct {
	Success bool          `json:"success"`
	Units   int           `json:"units"`
	Elapsed time.Duration `json:"-"`
	Err     error         `json:"-"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	view := struct {
		plain
		Elapsed float64 `json:"elapsed_seconds"`
		Error   string  `json:"error,omitempty"`
	}{plain: plain(o), Elapsed: o.Elapsed.Seconds()}
	if o.Err != nil {
		view.Error = o.Err.Error()
	}
	return json.Marshal(view)
}

// Throughput is units per second for this session alone.
func (o Outcome) Throughput() float64 {
	secs := o.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(o.Units) / secs
}

// StatusError reports a non-2xx response from a backend.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// SessionRunner executes one request/response cycle.
type SessionRunner interface {
	RunSession(ctx context.Context, spec RequestSpec, report UnitReporter) Outcome
}

// Client runs sessions over HTTP.
type Client struct {
	HTTPClient *http.Client
}

// NewHTTPClient clones the default transport so per-run settings never leak
// into http.DefaultClient.
func NewHTTPClient(insecureSkipTLSVerify bool) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 256
	if insecureSkipTLSVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: tr}
}

// NewClient returns a session client. A nil httpClient gets NewHTTPClient(false).
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(false)
	}
	return &Client{HTTPClient: httpClient}
}

// RunSession sends one streaming request and decodes the response. It never
// returns an error: every failure becomes a failed Outcome carrying the
// elapsed time up to the failure.
func (c *Client) RunSession(ctx context.Context, spec RequestSpec, report UnitReporter) Outcome {
	start := time.Now()
	log := logger.AppLogger.WithContext(&logger.LogContext{Backend: string(spec.Backend), Operation: "session"})

	fail := func(units int, err error) Outcome {
		out := Outcome{Success: false, Units: units, Elapsed: time.Since(start), Err: err}
		log.Warn("session failed after %.2fs: %v", out.Elapsed.Seconds(), err)
		return out
	}

	proto, err := ProtocolFor(spec.Backend)
	if err != nil {
		return fail(0, err)
	}
	body, err := proto.NewRequestBody(spec)
	if err != nil {
		return fail(0, fmt.Errorf("encode request: %w", err))
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, proto.Endpoint(spec.BaseURL), bytes.NewReader(body))
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if spec.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+spec.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fail(0, fmt.Errorf("%s request: %w", spec.Backend, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(0, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	res, err := proto.Decoder().Decode(resp.Body, report)
	if err != nil {
		return fail(res.Units, fmt.Errorf("%s stream: %w", spec.Backend, err))
	}
	if !res.Terminated {
		log.Debug("stream ended without a terminal signal after %d units", res.Units)
	}

	return Outcome{Success: true, Units: res.Units, Elapsed: time.Since(start)}
}
