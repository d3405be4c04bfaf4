package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"llmloadtest/internal/api"
)

const (
	tableHeader = "| Backend | Users | Throughput (tokens/s) | Avg Latency (s) | P95 Latency (s) | P99 Latency (s) | Success (%) | Total Tokens | Total Time (s) |"
	tableRule   = "|---------|-------|-----------------------|-----------------|-----------------|-----------------|-------------|--------------|----------------|"
)

// PrintBenchmarkHeader writes the run banner.
func PrintBenchmarkHeader(w io.Writer, targets []api.RequestSpec, levels []int, maxTokens int) {
	fmt.Fprintln(w, "\n################################################################################################################")
	fmt.Fprintln(w, "                                        LLM Streaming Load Test")
	fmt.Fprintln(w, "################################################################################################################")
	for _, t := range targets {
		fmt.Fprintf(w, "Backend: %-8s URL: %-40s Model: %s\n", t.Backend, t.BaseURL, t.Model)
	}
	fmt.Fprintf(w, "Concurrency levels: %v\n", levels)
	fmt.Fprintf(w, "Max tokens per request: %d\n\n", maxTokens)
}

// PrintTableHeader writes the markdown table head.
func PrintTableHeader(w io.Writer) {
	fmt.Fprintln(w, tableHeader)
	fmt.Fprintln(w, tableRule)
}

// FormatRow renders one summary as a markdown table row.
func FormatRow(s Summary) string {
	return fmt.Sprintf("| %-7s | %5d | %21.2f | %15.2f | %15.2f | %15.2f | %11.1f | %12d | %14.2f |",
		s.Backend,
		s.NumUsers,
		s.TokensPerSecond,
		s.AvgLatency,
		s.P95Latency,
		s.P99Latency,
		s.SuccessRate,
		s.TotalTokens,
		s.TotalTime,
	)
}

// FormatMarkdown renders a full report: the per-batch table in level order and
// a per-level comparison when more than one backend ran.
func FormatMarkdown(result SweepResult, order []api.Backend) string {
	var b strings.Builder
	b.WriteString("## Results\n\n")
	b.WriteString(tableHeader + "\n")
	b.WriteString(tableRule + "\n")

	comparisons := Compare(result, order)
	for _, lc := range comparisons {
		for _, backend := range order {
			if s, ok := lc.Results[backend]; ok {
				b.WriteString(FormatRow(s) + "\n")
			}
		}
	}

	if len(order) < 2 {
		return b.String()
	}

	b.WriteString("\n## Comparison\n\n")
	b.WriteString("| Users | Winner | Speedup |\n")
	b.WriteString("|-------|--------|---------|\n")
	for _, lc := range comparisons {
		winner := string(lc.Winner)
		if winner == "" {
			winner = "-"
		}
		fmt.Fprintf(&b, "| %5d | %-6s | %6.2fx |\n", lc.NumUsers, winner, lc.Speedup)
	}
	return b.String()
}

// SaveResultsToMD writes the report to path, or to a timestamped file in the
// working directory when path is empty. It returns the file name used.
func SaveResultsToMD(path string, result SweepResult, order []api.Backend) (string, error) {
	if path == "" {
		path = fmt.Sprintf("loadtest_%s.md", time.Now().Format("20060102_150405"))
	}

	content := "# LLM Streaming Load Test\n\n" +
		fmt.Sprintf("Generated: %s\n\n", time.Now().Format(time.RFC3339)) +
		FormatMarkdown(result, order)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("error writing results to %s: %w", path, err)
	}
	return path, nil
}
