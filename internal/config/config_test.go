package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"llmloadtest/internal/api"
)

func withEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for key, value := range vars {
		original, had := os.LookupEnv(key)
		os.Setenv(key, value)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, original)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}
	if cfg.VLLM.URL != "http://localhost:8000" {
		t.Errorf("Expected vLLM URL 'http://localhost:8000', got '%s'", cfg.VLLM.URL)
	}
	if cfg.Ollama.URL != "http://localhost:11434" {
		t.Errorf("Expected Ollama URL 'http://localhost:11434', got '%s'", cfg.Ollama.URL)
	}
	if len(cfg.UserCounts) != 5 || cfg.UserCounts[4] != 20 {
		t.Errorf("Expected user counts [1 2 5 10 20], got %v", cfg.UserCounts)
	}
	if cfg.CoolDown != 2*time.Second {
		t.Errorf("Expected cool-down 2s, got %v", cfg.CoolDown)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loadtest.yaml")
	content := `
vllm:
  url: http://gpu-1:8000
  model: meta/llama
ollama:
  url: http://gpu-2:11434
backends: [ollama, vllm]
user_counts: [4, 8]
max_tokens: 128
timeout: 30s
cool_down: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.VLLM.URL != "http://gpu-1:8000" || cfg.VLLM.Model != "meta/llama" {
		t.Errorf("Unexpected vLLM config: %+v", cfg.VLLM)
	}
	if cfg.Ollama.Model != "gpt-oss:120b" {
		t.Errorf("Expected default Ollama model to survive, got '%s'", cfg.Ollama.Model)
	}
	if len(cfg.Backends) != 2 || cfg.Backends[0] != api.BackendOllama {
		t.Errorf("Expected backend order [ollama vllm], got %v", cfg.Backends)
	}
	if cfg.Timeout != 30*time.Second || cfg.CoolDown != 500*time.Millisecond {
		t.Errorf("Unexpected durations: timeout=%v cool_down=%v", cfg.Timeout, cfg.CoolDown)
	}
	if cfg.MaxTokens != 128 {
		t.Errorf("Expected max tokens 128, got %d", cfg.MaxTokens)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"VLLM_URL":     "http://vllm.internal:8000",
		"VLLM_API_KEY": "sk-test",
		"OLLAMA_MODEL": "llama3:8b",
		"USER_COUNTS":  "1, 3 ,9",
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.VLLM.URL != "http://vllm.internal:8000" {
		t.Errorf("Expected VLLM_URL override, got '%s'", cfg.VLLM.URL)
	}
	if cfg.VLLM.APIKey != "sk-test" {
		t.Errorf("Expected VLLM_API_KEY override")
	}
	if cfg.Ollama.Model != "llama3:8b" {
		t.Errorf("Expected OLLAMA_MODEL override, got '%s'", cfg.Ollama.Model)
	}
	if len(cfg.UserCounts) != 3 || cfg.UserCounts[1] != 3 {
		t.Errorf("Expected user counts [1 3 9], got %v", cfg.UserCounts)
	}
}

func TestLoad_InvalidUserCountsEnv(t *testing.T) {
	withEnv(t, map[string]string{"USER_COUNTS": "1,two"})

	if _, err := Load(""); err == nil {
		t.Fatal("Expected error for invalid USER_COUNTS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty levels", func(c *Config) { c.UserCounts = nil }, ErrNoConcurrencyLevels},
		{"zero level", func(c *Config) { c.UserCounts = []int{1, 0} }, ErrInvalidConcurrency},
		{"no backends", func(c *Config) { c.Backends = nil }, ErrNoBackends},
		{"blank backend", func(c *Config) { c.Backends = []api.Backend{""} }, ErrMissingBackend},
		{"unknown backend", func(c *Config) { c.Backends = []api.Backend{"tgi"} }, api.ErrUnknownBackend},
		{"duplicate backend", func(c *Config) { c.Backends = []api.Backend{api.BackendVLLM, api.BackendVLLM} }, ErrDuplicateBackend},
		{"missing url", func(c *Config) { c.Ollama.URL = "" }, ErrMissingBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	cfg := Default()
	cfg.VLLM.URL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for malformed URL")
	}
}

func TestTargets(t *testing.T) {
	cfg := Default()
	cfg.Backends = []api.Backend{api.BackendOllama, api.BackendVLLM}
	cfg.VLLM.APIKey = "sk"

	targets := cfg.Targets()
	if len(targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d", len(targets))
	}
	if targets[0].Backend != api.BackendOllama || targets[0].BaseURL != cfg.Ollama.URL {
		t.Errorf("Unexpected first target: %+v", targets[0])
	}
	if targets[1].APIKey != "sk" || targets[1].Model != cfg.VLLM.Model {
		t.Errorf("Unexpected second target: %+v", targets[1])
	}
	for _, spec := range targets {
		if spec.Prompt != DefaultPrompt || spec.MaxTokens != 500 || spec.Timeout != 120*time.Second {
			t.Errorf("Shared request fields not propagated: %+v", spec)
		}
	}
}

func TestParseUserCounts(t *testing.T) {
	counts, err := ParseUserCounts("1,2,,4")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(counts) != 3 || counts[2] != 4 {
		t.Errorf("Expected [1 2 4], got %v", counts)
	}
	if _, err := ParseUserCounts("1,x"); err == nil {
		t.Error("Expected error for non-numeric level")
	}

	// Range checks are left to ValidateLevels.
	for input, want := range map[string]error{
		" 1, 2 ,5": nil,
		"":         ErrNoConcurrencyLevels,
		" , ":      ErrNoConcurrencyLevels,
		"1,0":      ErrInvalidConcurrency,
		"-2":       ErrInvalidConcurrency,
	} {
		counts, err := ParseUserCounts(input)
		if err != nil {
			t.Fatalf("ParseUserCounts(%q): unexpected error %v", input, err)
		}
		if err := ValidateLevels(counts); !errors.Is(err, want) {
			t.Errorf("ValidateLevels(%q) = %v, want %v", input, err, want)
		}
	}
}
