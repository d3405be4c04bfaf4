package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
)

// stubRunner answers sessions without any network traffic.
type stubRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(spec api.RequestSpec, report api.UnitReporter) api.Outcome
}

func (s *stubRunner) RunSession(_ context.Context, spec api.RequestSpec, report api.UnitReporter) api.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, string(spec.Backend))
	s.mu.Unlock()
	return s.fn(spec, report)
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// healthyVLLM succeeds with 100 units for vLLM and fails instantly for Ollama.
func healthyVLLM(delay time.Duration) *stubRunner {
	return &stubRunner{fn: func(spec api.RequestSpec, report api.UnitReporter) api.Outcome {
		if spec.Backend != api.BackendVLLM {
			return api.Outcome{Err: errors.New("connection refused")}
		}
		time.Sleep(delay)
		if report != nil {
			report.Add(100)
		}
		return api.Outcome{Success: true, Units: 100, Elapsed: time.Second}
	}}
}

func twoTargets() []api.RequestSpec {
	return []api.RequestSpec{
		{Backend: api.BackendVLLM, BaseURL: "http://vllm.invalid"},
		{Backend: api.BackendOllama, BaseURL: "http://ollama.invalid"},
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []Summary
	units    int64
}

func (o *recordingObserver) BatchStarted(b api.Backend, n int) api.UnitReporter {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, fmt.Sprintf("%s:%d", b, n))
	return o
}

func (o *recordingObserver) BatchFinished(s Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, s)
}

func (o *recordingObserver) Add(n int) error {
	atomic.AddInt64(&o.units, int64(n))
	return nil
}

func TestSweep_EndToEnd(t *testing.T) {
	var pauses []time.Duration
	s := &Sweep{
		Targets:  twoTargets(),
		Levels:   []int{1, 2},
		CoolDown: 2 * time.Second,
		Runner:   healthyVLLM(10 * time.Millisecond),
		sleep: func(_ context.Context, d time.Duration) error {
			pauses = append(pauses, d)
			return nil
		},
	}

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result[api.BackendVLLM], 2)
	require.Len(t, result[api.BackendOllama], 2)

	for i, users := range []int{1, 2} {
		v := result[api.BackendVLLM][i]
		assert.Equal(t, users, v.NumUsers)
		assert.Greater(t, v.TokensPerSecond, 0.0)
		assert.Equal(t, 100*users, v.TotalTokens)
		assert.Equal(t, 100.0, v.SuccessRate)

		o := result[api.BackendOllama][i]
		assert.Equal(t, users, o.NumUsers)
		assert.Equal(t, 0.0, o.SuccessRate)
		assert.Equal(t, 0.0, o.TokensPerSecond)
		assert.Equal(t, 0, o.TotalTokens)
	}

	// One pause between the two levels, none after the last.
	assert.Equal(t, []time.Duration{2 * time.Second}, pauses)
}

func TestSweep_StrictOrdering(t *testing.T) {
	runner := healthyVLLM(0)
	obs := &recordingObserver{}
	s := &Sweep{
		Targets:  twoTargets(),
		Levels:   []int{2, 1},
		Runner:   runner,
		Observer: obs,
	}

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"vllm", "vllm", "ollama", "ollama", "vllm", "ollama"}, runner.calls)
	assert.Equal(t, []string{"vllm:2", "ollama:2", "vllm:1", "ollama:1"}, obs.started)
	require.Len(t, obs.finished, 4)
	assert.Equal(t, int64(300), atomic.LoadInt64(&obs.units))

	// Output order follows input order, not value.
	assert.Equal(t, 2, result[api.BackendVLLM][0].NumUsers)
	assert.Equal(t, 1, result[api.BackendVLLM][1].NumUsers)
	assert.Equal(t, 6, s.Steps())
}

func TestSweep_Idempotent(t *testing.T) {
	newSweep := func() *Sweep {
		return &Sweep{Targets: twoTargets(), Levels: []int{1, 3}, Runner: healthyVLLM(0)}
	}

	first, err := newSweep().Run(context.Background())
	require.NoError(t, err)
	second, err := newSweep().Run(context.Background())
	require.NoError(t, err)

	for _, b := range []api.Backend{api.BackendVLLM, api.BackendOllama} {
		require.Len(t, second[b], len(first[b]))
		for i := range first[b] {
			a, c := first[b][i], second[b][i]
			assert.Equal(t, a.NumUsers, c.NumUsers)
			assert.Equal(t, a.TotalTokens, c.TotalTokens)
			assert.Equal(t, a.SuccessRate, c.SuccessRate)
			assert.Equal(t, a.AvgLatency, c.AvgLatency)
			assert.Equal(t, a.P95Latency, c.P95Latency)
			assert.Equal(t, a.P99Latency, c.P99Latency)
		}
	}
}

func TestSweep_ConfigErrorsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name    string
		targets []api.RequestSpec
		levels  []int
		want    error
	}{
		{"empty levels", twoTargets(), nil, config.ErrNoConcurrencyLevels},
		{"zero level", twoTargets(), []int{1, 0}, config.ErrInvalidConcurrency},
		{"no targets", nil, []int{1}, config.ErrNoBackends},
		{"missing backend", []api.RequestSpec{{BaseURL: "http://x"}}, []int{1}, config.ErrMissingBackend},
		{"unknown backend", []api.RequestSpec{{Backend: "tgi", BaseURL: "http://x"}}, []int{1}, api.ErrUnknownBackend},
		{"missing url", []api.RequestSpec{{Backend: api.BackendVLLM}}, []int{1}, config.ErrMissingBaseURL},
		{"duplicate", []api.RequestSpec{{Backend: api.BackendVLLM, BaseURL: "http://x"}, {Backend: api.BackendVLLM, BaseURL: "http://y"}}, []int{1}, config.ErrDuplicateBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := healthyVLLM(0)
			s := &Sweep{Targets: tt.targets, Levels: tt.levels, Runner: runner}

			result, err := s.Run(context.Background())

			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, result)
			assert.Equal(t, 0, runner.callCount())
		})
	}
}

func TestSweep_CancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{fn: func(spec api.RequestSpec, _ api.UnitReporter) api.Outcome {
		cancel()
		return api.Outcome{Success: true, Units: 1, Elapsed: time.Millisecond}
	}}
	s := &Sweep{Targets: twoTargets(), Levels: []int{1, 2}, Runner: runner}

	result, err := s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result[api.BackendVLLM], 1)
	assert.Len(t, result[api.BackendOllama], 0)
	assert.Equal(t, 1, runner.callCount())
}

func TestSweep_CoolDownCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}

func TestLoadMeasurement_LaunchesAllAtOnce(t *testing.T) {
	const users = 8
	var arrived sync.WaitGroup
	arrived.Add(users)
	runner := &stubRunner{fn: func(api.RequestSpec, api.UnitReporter) api.Outcome {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return api.Outcome{Success: true, Units: 1, Elapsed: time.Millisecond}
		case <-time.After(5 * time.Second):
			return api.Outcome{Err: errors.New("sessions were not concurrent")}
		}
	}}

	m := LoadMeasurement{
		Spec:     api.RequestSpec{Backend: api.BackendVLLM, BaseURL: "http://x"},
		NumUsers: users,
		Runner:   runner,
	}
	batch := m.Run(context.Background(), nil)

	require.Len(t, batch.Outcomes, users)
	for _, o := range batch.Outcomes {
		assert.True(t, o.Success, "outcome failed: %v", o.Err)
	}
	assert.Greater(t, batch.Elapsed, time.Duration(0))
}

func TestRunLoadTest_HTTP(t *testing.T) {
	vllm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"w%d \"}}]}\n\n", i)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer vllm.Close()

	var ollamaHits int64
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ollamaHits, 1)
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer ollama.Close()

	result, err := RunLoadTest(context.Background(), map[api.Backend]string{
		api.BackendVLLM:   vllm.URL,
		api.BackendOllama: ollama.URL,
	}, "hello", []int{3})
	require.NoError(t, err)

	require.Len(t, result[api.BackendVLLM], 1)
	assert.Equal(t, 15, result[api.BackendVLLM][0].TotalTokens)
	assert.Equal(t, 100.0, result[api.BackendVLLM][0].SuccessRate)

	require.Len(t, result[api.BackendOllama], 1)
	assert.Equal(t, 0.0, result[api.BackendOllama][0].SuccessRate)
	assert.Equal(t, int64(3), atomic.LoadInt64(&ollamaHits))
}

func TestRunLoadTest_ConfigErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	_, err := RunLoadTest(context.Background(), map[api.Backend]string{api.BackendVLLM: srv.URL}, "", nil)
	assert.ErrorIs(t, err, config.ErrNoConcurrencyLevels)

	_, err = RunLoadTest(context.Background(), map[api.Backend]string{"": srv.URL}, "", []int{1})
	assert.ErrorIs(t, err, config.ErrMissingBackend)

	_, err = RunLoadTest(context.Background(), nil, "", []int{1})
	assert.ErrorIs(t, err, config.ErrNoBackends)

	assert.Equal(t, int64(0), atomic.LoadInt64(&hits))
}
