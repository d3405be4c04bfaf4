package utils

import (
	"llmloadtest/internal/api"
)

// Summary is the reduced view of one batch. Latencies and times are seconds.
type Summary struct {
	Backend         api.Backend `json:"backend" yaml:"backend"`
	NumUsers        int         `json:"num_users" yaml:"num-users"`
	TokensPerSecond float64     `json:"tokens_per_second" yaml:"tokens-per-second"`
	AvgLatency      float64     `json:"avg_latency" yaml:"avg-latency"`
	P95Latency      float64     `json:"p95_latency" yaml:"p95-latency"`
	P99Latency      float64     `json:"p99_latency" yaml:"p99-latency"`
	SuccessRate     float64     `json:"success_rate" yaml:"success-rate"`
	TotalTokens     int         `json:"total_tokens" yaml:"total-tokens"`
	TotalTime       float64     `json:"total_time" yaml:"total-time"`
}

// Aggregate reduces a batch to a Summary. Only successful outcomes feed the
// unit and latency figures. With no successes every derived number is 0.
func Aggregate(backend api.Backend, numUsers int, batch Batch) Summary {
	summary := Summary{
		Backend:   backend,
		NumUsers:  numUsers,
		TotalTime: batch.Elapsed.Seconds(),
	}

	var latencies []float64
	totalUnits := 0
	for _, o := range batch.Outcomes {
		if !o.Success {
			continue
		}
		latencies = append(latencies, o.Elapsed.Seconds())
		totalUnits += o.Units
	}

	if len(latencies) == 0 {
		return summary
	}

	sorted := SortedCopy(latencies)
	summary.TotalTokens = totalUnits
	summary.TokensPerSecond = Rate(float64(totalUnits), summary.TotalTime)
	summary.AvgLatency = Mean(latencies)
	summary.P95Latency = Percentile(sorted, 0.95)
	summary.P99Latency = Percentile(sorted, 0.99)
	summary.SuccessRate = float64(len(latencies)) / float64(len(batch.Outcomes)) * 100

	return summary
}
