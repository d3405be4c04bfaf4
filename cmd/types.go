package main

import (
	"net/http"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
	"llmloadtest/internal/utils"
)

type LoadTest struct {
	Config     *config.Config
	HTTPClient *http.Client
	ReportPath string
}

type LoadTestResult struct {
	Backends   []api.RequestSpec       `json:"backends" yaml:"backends"`
	UserCounts []int                   `json:"user_counts" yaml:"user-counts"`
	MaxTokens  int                     `json:"max_tokens" yaml:"max-tokens"`
	Results    utils.SweepResult       `json:"results" yaml:"results"`
	Comparison []utils.LevelComparison `json:"comparison,omitempty" yaml:"comparison,omitempty"`
}
