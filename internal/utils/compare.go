package utils

import "llmloadtest/internal/api"

// LevelComparison lines up two backends at one concurrency level.
type LevelComparison struct {
	NumUsers int                     `json:"num_users" yaml:"num-users"`
	Results  map[api.Backend]Summary `json:"results" yaml:"results"`
	// Winner has the highest throughput; empty when no backend produced any.
	Winner api.Backend `json:"winner,omitempty" yaml:"winner,omitempty"`
	// Speedup is winner throughput over the runner-up's, 0 if undefined.
	Speedup float64 `json:"speedup" yaml:"speedup"`
}

// Compare pairs up the summaries of every backend by position. Positions line
// up because each backend's sequence follows the same level order.
func Compare(result SweepResult, order []api.Backend) []LevelComparison {
	levels := 0
	for _, b := range order {
		if n := len(result[b]); n > levels {
			levels = n
		}
	}

	comparisons := make([]LevelComparison, 0, levels)
	for i := 0; i < levels; i++ {
		lc := LevelComparison{Results: make(map[api.Backend]Summary, len(order))}
		var best, second float64
		for _, b := range order {
			summaries := result[b]
			if i >= len(summaries) {
				continue
			}
			s := summaries[i]
			lc.NumUsers = s.NumUsers
			lc.Results[b] = s

			switch {
			case s.TokensPerSecond > best:
				second = best
				best = s.TokensPerSecond
				lc.Winner = b
			case s.TokensPerSecond > second:
				second = s.TokensPerSecond
			}
		}
		if best > 0 && second > 0 {
			lc.Speedup = roundToTwoDecimals(best / second)
		}
		comparisons = append(comparisons, lc)
	}
	return comparisons
}
