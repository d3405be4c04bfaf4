package utils

import (
	"context"
	"sync"
	"time"

	"llmloadtest/internal/api"
	"llmloadtest/internal/logger"
)

// LoadMeasurement describes one batch: NumUsers identical sessions against
// one backend.
type LoadMeasurement struct {
	Spec     api.RequestSpec
	NumUsers int
	Runner   api.SessionRunner
}

// Batch holds every session outcome of one measurement, in no particular
// order, plus the wall time from the first launch to the last completion.
type Batch struct {
	Outcomes []api.Outcome
	Elapsed  time.Duration
}

// Run launches all sessions at once and waits for every one of them. A failed
// session never cancels its siblings.
func (m *LoadMeasurement) Run(ctx context.Context, report api.UnitReporter) Batch {
	runner := m.Runner
	if runner == nil {
		runner = api.NewClient(nil)
	}

	outcomes := make([]api.Outcome, m.NumUsers)
	var wg sync.WaitGroup

	logger.AppLogger.DebugWithContext(&logger.LogContext{
		Backend:     string(m.Spec.Backend),
		Concurrency: m.NumUsers,
		Operation:   "fan-out",
	}, "launching %d sessions against %s", m.NumUsers, m.Spec.BaseURL)

	start := time.Now()
	for i := 0; i < m.NumUsers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			outcomes[index] = runner.RunSession(ctx, m.Spec, report)
		}(i)
	}
	wg.Wait()

	return Batch{Outcomes: outcomes, Elapsed: time.Since(start)}
}
