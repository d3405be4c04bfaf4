package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"

	"llmloadtest/internal/api"
)

// Pre-flight configuration errors. These are the only failures that stop a
// sweep, and they do so before any network traffic.
var (
	ErrNoConcurrencyLevels = errors.New("at least one concurrency level is required")
	ErrInvalidConcurrency  = errors.New("concurrency levels must be positive")
	ErrNoBackends          = errors.New("at least one backend is required")
	ErrMissingBackend      = errors.New("backend identifier is required")
	ErrMissingBaseURL      = errors.New("backend base URL is required")
	ErrDuplicateBackend    = errors.New("backend configured more than once")
)

const DefaultPrompt = "Write a comprehensive essay about the American Revolution, covering its causes, major events, key figures, and lasting impact on world history."

// BackendConfig points at one inference service.
type BackendConfig struct {
	URL    string `yaml:"url" json:"url"`
	Model  string `yaml:"model" json:"model"`
	APIKey string `yaml:"api_key" json:"-"`
}

// Config is the full load-test configuration.
type Config struct {
	VLLM   BackendConfig `yaml:"vllm"`
	Ollama BackendConfig `yaml:"ollama"`
	// Backends is the sweep order. Only listed backends are exercised.
	Backends    []api.Backend `yaml:"backends"`
	Prompt      string        `yaml:"prompt"`
	UserCounts  []int         `yaml:"user_counts"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	TopP        float32       `yaml:"top_p"`
	Timeout     time.Duration `yaml:"timeout"`
	CoolDown    time.Duration `yaml:"cool_down"`
	// StatusTimeout bounds the availability probe.
	StatusTimeout time.Duration `yaml:"status_timeout"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		VLLM: BackendConfig{
			URL:   "http://localhost:8000",
			Model: "openai/gpt-oss-120b",
		},
		Ollama: BackendConfig{
			URL:   "http://localhost:11434",
			Model: "gpt-oss:120b",
		},
		Backends:      []api.Backend{api.BackendVLLM, api.BackendOllama},
		Prompt:        DefaultPrompt,
		UserCounts:    []int{1, 2, 5, 10, 20},
		MaxTokens:     500,
		Temperature:   0.8,
		Timeout:       120 * time.Second,
		CoolDown:      2 * time.Second,
		StatusTimeout: 2 * time.Second,
	}
}

// Load reads a YAML file over the defaults and then applies environment
// overrides. An empty path skips the file; a missing default file is not an
// error but an explicitly named one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, name := range []string{"loadtest.yaml", "loadtest.yml"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VLLM_*, OLLAMA_*, TEST_PROMPT and USER_COUNTS.
func (c *Config) ApplyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.VLLM.URL, "VLLM_URL")
	setString(&c.VLLM.Model, "VLLM_MODEL")
	setString(&c.VLLM.APIKey, "VLLM_API_KEY")
	setString(&c.Ollama.URL, "OLLAMA_URL")
	setString(&c.Ollama.Model, "OLLAMA_MODEL")
	setString(&c.Prompt, "TEST_PROMPT")

	if v := os.Getenv("USER_COUNTS"); v != "" {
		counts, err := ParseUserCounts(v)
		if err != nil {
			return fmt.Errorf("invalid USER_COUNTS: %w", err)
		}
		c.UserCounts = counts
	}
	return nil
}

// ParseUserCounts parses a comma-separated list such as "1,2,5,10".
func ParseUserCounts(s string) ([]int, error) {
	var counts []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid concurrency level %q: %w", part, err)
		}
		counts = append(counts, n)
	}
	return counts, nil
}

// Backend returns the connection settings for b.
func (c *Config) Backend(b api.Backend) (BackendConfig, bool) {
	switch b {
	case api.BackendVLLM:
		return c.VLLM, true
	case api.BackendOllama:
		return c.Ollama, true
	default:
		return BackendConfig{}, false
	}
}

// SetBackendURL changes the base URL for b.
func (c *Config) SetBackendURL(b api.Backend, u string) {
	switch b {
	case api.BackendVLLM:
		c.VLLM.URL = u
	case api.BackendOllama:
		c.Ollama.URL = u
	}
}

// Validate runs the pre-flight checks.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return ErrNoBackends
	}
	seen := make(map[api.Backend]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b == "" {
			return ErrMissingBackend
		}
		bc, ok := c.Backend(b)
		if !ok {
			return fmt.Errorf("%w: %q", api.ErrUnknownBackend, string(b))
		}
		if seen[b] {
			return fmt.Errorf("%w: %s", ErrDuplicateBackend, b)
		}
		seen[b] = true
		if strings.TrimSpace(bc.URL) == "" {
			return fmt.Errorf("%w: %s", ErrMissingBaseURL, b)
		}
		if !isValidURL(bc.URL) {
			return fmt.Errorf("invalid %s base URL %q", b, bc.URL)
		}
	}
	return ValidateLevels(c.UserCounts)
}

// ValidateLevels checks a concurrency-level list.
func ValidateLevels(levels []int) error {
	if len(levels) == 0 {
		return ErrNoConcurrencyLevels
	}
	for _, n := range levels {
		if n <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, n)
		}
	}
	return nil
}

// Targets returns one RequestSpec per configured backend, in sweep order.
func (c *Config) Targets() []api.RequestSpec {
	specs := make([]api.RequestSpec, 0, len(c.Backends))
	for _, b := range c.Backends {
		bc, _ := c.Backend(b)
		specs = append(specs, api.RequestSpec{
			Backend:     b,
			BaseURL:     bc.URL,
			APIKey:      bc.APIKey,
			Model:       bc.Model,
			Prompt:      c.Prompt,
			MaxTokens:   c.MaxTokens,
			Temperature: c.Temperature,
			TopP:        c.TopP,
			Timeout:     c.Timeout,
		})
	}
	return specs
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
