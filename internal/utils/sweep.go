package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
	"llmloadtest/internal/logger"
)

// SweepResult maps each backend to its summaries in concurrency-level order.
type SweepResult map[api.Backend][]Summary

// Observer is notified around every (backend, level) batch. BatchStarted may
// return a reporter that receives unit counts as they stream in; nil is fine.
type Observer interface {
	BatchStarted(backend api.Backend, numUsers int) api.UnitReporter
	BatchFinished(summary Summary)
}

// Sweep runs every level against every target, one batch at a time.
type Sweep struct {
	Targets  []api.RequestSpec
	Levels   []int
	CoolDown time.Duration
	Runner   api.SessionRunner
	Observer Observer

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSweep builds a sweep from a validated configuration.
func NewSweep(cfg *config.Config, runner api.SessionRunner) *Sweep {
	return &Sweep{
		Targets:  cfg.Targets(),
		Levels:   append([]int(nil), cfg.UserCounts...),
		CoolDown: cfg.CoolDown,
		Runner:   runner,
	}
}

// Steps is the number of batches a full run performs.
func (s *Sweep) Steps() int {
	return len(s.Levels) * len(s.Targets)
}

// Validate performs the pre-flight checks. It never touches the network.
func (s *Sweep) Validate() error {
	if err := config.ValidateLevels(s.Levels); err != nil {
		return err
	}
	if len(s.Targets) == 0 {
		return config.ErrNoBackends
	}
	seen := make(map[api.Backend]bool, len(s.Targets))
	for _, t := range s.Targets {
		if t.Backend == "" {
			return config.ErrMissingBackend
		}
		if _, err := api.ProtocolFor(t.Backend); err != nil {
			return err
		}
		if seen[t.Backend] {
			return fmt.Errorf("%w: %s", config.ErrDuplicateBackend, t.Backend)
		}
		seen[t.Backend] = true
		if strings.TrimSpace(t.BaseURL) == "" {
			return fmt.Errorf("%w: %s", config.ErrMissingBaseURL, t.Backend)
		}
	}
	return nil
}

// Run executes the sweep. Levels run in the given order; within a level the
// targets run in the given order, and each batch completes before the next
// starts. Failed sessions are recorded as data and never stop the sweep.
// A configuration error is returned before any request is sent. If ctx is
// cancelled between batches, the partial result is returned with ctx.Err().
func (s *Sweep) Run(ctx context.Context) (SweepResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	runner := s.Runner
	if runner == nil {
		runner = api.NewClient(nil)
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	result := make(SweepResult, len(s.Targets))
	for _, t := range s.Targets {
		result[t.Backend] = make([]Summary, 0, len(s.Levels))
	}

	for i, numUsers := range s.Levels {
		for _, target := range s.Targets {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			logCtx := &logger.LogContext{
				Backend:     string(target.Backend),
				Concurrency: numUsers,
				Operation:   "sweep",
			}
			logger.AppLogger.InfoWithContext(logCtx, "starting batch")

			var report api.UnitReporter
			if s.Observer != nil {
				report = s.Observer.BatchStarted(target.Backend, numUsers)
			}

			m := LoadMeasurement{Spec: target, NumUsers: numUsers, Runner: runner}
			summary := Aggregate(target.Backend, numUsers, m.Run(ctx, report))
			result[target.Backend] = append(result[target.Backend], summary)

			logger.AppLogger.WithContext(logCtx).InfoWithFields("batch finished", map[string]interface{}{
				"tokens_per_second": roundToTwoDecimals(summary.TokensPerSecond),
				"success_rate":      roundToTwoDecimals(summary.SuccessRate),
				"total_tokens":      summary.TotalTokens,
			})

			if s.Observer != nil {
				s.Observer.BatchFinished(summary)
			}
		}

		if i < len(s.Levels)-1 && s.CoolDown > 0 {
			if err := sleep(ctx, s.CoolDown); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunLoadTest runs a full sweep against the given base URLs with default
// request settings and returns the result synchronously. Backends run in
// their canonical order.
func RunLoadTest(ctx context.Context, baseURLs map[api.Backend]string, prompt string, levels []int) (SweepResult, error) {
	for b := range baseURLs {
		if b == "" {
			return nil, config.ErrMissingBackend
		}
		if _, err := api.ProtocolFor(b); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	cfg.Backends = nil
	for _, b := range api.Backends {
		u, ok := baseURLs[b]
		if !ok {
			continue
		}
		cfg.Backends = append(cfg.Backends, b)
		cfg.SetBackendURL(b, u)
	}
	if prompt != "" {
		cfg.Prompt = prompt
	}
	cfg.UserCounts = levels

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewSweep(cfg, nil).Run(ctx)
}
