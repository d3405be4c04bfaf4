package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vllmStub(t *testing.T, units int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["stream"] != true {
			http.Error(w, "stream must be true", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < units; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"t%d\"}}]}\n\n", i)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func ollamaStub(t *testing.T, fragments ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		for _, f := range fragments {
			enc.Encode(map[string]interface{}{"response": f, "done": false})
		}
		enc.Encode(map[string]interface{}{"response": "", "done": true})
	}))
}

func TestRunSession_VLLMSuccess(t *testing.T) {
	srv := vllmStub(t, 100)
	defer srv.Close()

	rep := &countingReporter{}
	out := NewClient(nil).RunSession(context.Background(), RequestSpec{
		Backend: BackendVLLM,
		BaseURL: srv.URL,
		Model:   "m",
		Prompt:  "p",
		Timeout: 5 * time.Second,
	}, rep)

	require.True(t, out.Success, "unexpected failure: %v", out.Err)
	assert.NoError(t, out.Err)
	assert.Equal(t, 100, out.Units)
	assert.Equal(t, 100, rep.total)
	assert.Greater(t, out.Elapsed, time.Duration(0))
}

func TestRunSession_OllamaSuccess(t *testing.T) {
	srv := ollamaStub(t, "hello world", " and more", "")
	defer srv.Close()

	out := NewClient(nil).RunSession(context.Background(), RequestSpec{
		Backend: BackendOllama,
		BaseURL: srv.URL + "/",
		Model:   "m",
		Prompt:  "p",
	}, nil)

	require.True(t, out.Success, "unexpected failure: %v", out.Err)
	assert.Equal(t, 4, out.Units)
}

func TestRunSession_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out := NewClient(nil).RunSession(context.Background(), RequestSpec{Backend: BackendOllama, BaseURL: srv.URL}, nil)

	assert.False(t, out.Success)
	assert.Equal(t, 0, out.Units)
	var statusErr *StatusError
	require.ErrorAs(t, out.Err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "model not loaded")
}

func TestRunSession_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewClient(nil).RunSession(context.Background(), RequestSpec{Backend: BackendVLLM, BaseURL: url}, nil)

	assert.False(t, out.Success)
	assert.Error(t, out.Err)
	assert.GreaterOrEqual(t, out.Elapsed, time.Duration(0))
}

func TestRunSession_TimeoutKeepsPartialCount(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"response\":\"a b\",\"done\":false}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out := NewClient(nil).RunSession(context.Background(), RequestSpec{
		Backend: BackendOllama,
		BaseURL: srv.URL,
		Timeout: 200 * time.Millisecond,
	}, nil)

	assert.False(t, out.Success)
	assert.Equal(t, 2, out.Units)
	assert.Error(t, out.Err)
	assert.GreaterOrEqual(t, out.Elapsed, 200*time.Millisecond)
}

func TestRunSession_UnknownBackend(t *testing.T) {
	out := NewClient(nil).RunSession(context.Background(), RequestSpec{Backend: "tgi", BaseURL: "http://localhost"}, nil)

	assert.False(t, out.Success)
	assert.ErrorIs(t, out.Err, ErrUnknownBackend)
}

func TestRunSession_SendsAPIKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	out := NewClient(nil).RunSession(context.Background(), RequestSpec{Backend: BackendVLLM, BaseURL: srv.URL, APIKey: "sk-test"}, nil)

	require.True(t, out.Success)
	assert.Equal(t, "Bearer sk-test", auth)
}

func TestOutcomeThroughput(t *testing.T) {
	assert.Equal(t, 50.0, Outcome{Units: 100, Elapsed: 2 * time.Second}.Throughput())
	assert.Equal(t, 0.0, Outcome{Units: 100}.Throughput())
	assert.Equal(t, 0.0, Outcome{Units: 100, Elapsed: -time.Second}.Throughput())
}

func TestOutcomeJSONInSeconds(t *testing.T) {
	data, err := json.Marshal(Outcome{Units: 3, Elapsed: 1500 * time.Millisecond, Err: errors.New("boom")})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, 1.5, fields["elapsed_seconds"])
	assert.Equal(t, 3.0, fields["units"])
	assert.Equal(t, false, fields["success"])
	assert.Equal(t, "boom", fields["error"])
}
