package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
	"llmloadtest/internal/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a YAML config file (optional)")
	vllmURL := pflag.String("vllm-url", "", "Base URL of the vLLM server")
	ollamaURL := pflag.String("ollama-url", "", "Base URL of the Ollama server")
	vllmModel := pflag.String("vllm-model", "", "Model name for vLLM requests")
	ollamaModel := pflag.String("ollama-model", "", "Model name for Ollama requests")
	apiKey := pflag.StringP("api-key", "k", "", "API key for the vLLM server")
	prompt := pflag.StringP("prompt", "p", "", "Prompt sent by every simulated user")
	users := pflag.StringP("users", "u", "", "Comma-separated list of concurrency levels")
	backends := pflag.StringP("backends", "b", "", "Comma-separated list of backends to test, in order")
	maxTokens := pflag.IntP("max-tokens", "t", 0, "Maximum number of tokens to generate")
	temperature := pflag.Float32("temperature", 0, "Sampling temperature")
	topP := pflag.Float32("top-p", 0, "Nucleus sampling probability (0 leaves it unset)")
	timeout := pflag.Duration("timeout", 0, "Per-request timeout")
	coolDown := pflag.Duration("cool-down", 0, "Pause between concurrency levels")
	format := pflag.StringP("format", "f", "", "Output format: json or yaml (optional)")
	output := pflag.StringP("output", "o", "", "Path of the markdown report (table mode only)")
	status := pflag.Bool("status", false, "Only check whether the backends are reachable")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	insecureSkipTLSVerify := pflag.Bool("insecure-skip-tls-verify", false, "Skip TLS certificate verification. Use with caution, this is insecure.")
	pflag.Parse()

	if *help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}

	// Keep stdout clean for tables and structured output.
	logger.AppLogger.SetOutput(os.Stderr, os.Stderr)
	if *verbose {
		logger.AppLogger.SetLevel(logger.DEBUG)
	} else if os.Getenv("LOG_LEVEL") == "" {
		logger.AppLogger.SetLevel(logger.WARN)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.AppLogger.Fatal("Error loading config: %v", err)
	}

	changed := func(name string) bool { return pflag.CommandLine.Changed(name) }
	if changed("vllm-url") {
		cfg.VLLM.URL = *vllmURL
	}
	if changed("ollama-url") {
		cfg.Ollama.URL = *ollamaURL
	}
	if changed("vllm-model") {
		cfg.VLLM.Model = *vllmModel
	}
	if changed("ollama-model") {
		cfg.Ollama.Model = *ollamaModel
	}
	if changed("api-key") {
		cfg.VLLM.APIKey = *apiKey
	}
	if changed("prompt") {
		cfg.Prompt = *prompt
	}
	if changed("users") {
		levels, err := config.ParseUserCounts(*users)
		if err != nil {
			logger.AppLogger.Fatal("Invalid concurrency levels: %v", err)
		}
		cfg.UserCounts = levels
	}
	if changed("backends") {
		cfg.Backends = nil
		for _, name := range strings.Split(*backends, ",") {
			b, err := api.ParseBackend(name)
			if err != nil {
				logger.AppLogger.Fatal("Invalid backends: %v", err)
			}
			cfg.Backends = append(cfg.Backends, b)
		}
	}
	if changed("max-tokens") {
		cfg.MaxTokens = *maxTokens
	}
	if changed("temperature") {
		cfg.Temperature = *temperature
	}
	if changed("top-p") {
		cfg.TopP = *topP
	}
	if changed("timeout") {
		cfg.Timeout = *timeout
	}
	if changed("cool-down") {
		cfg.CoolDown = *coolDown
	}

	if err := cfg.Validate(); err != nil {
		logger.AppLogger.Fatal("Invalid configuration: %v", err)
	}
	if *format != "" && *format != "json" && *format != "yaml" {
		logger.AppLogger.Fatal("Invalid format specified: %s", *format)
	}

	if *insecureSkipTLSVerify {
		fmt.Fprintln(os.Stderr, "\n/!\\ WARNING: Skipping TLS certificate verification. This is insecure and should not be used in production. /!\\")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lt := &LoadTest{
		Config:     cfg,
		HTTPClient: api.NewHTTPClient(*insecureSkipTLSVerify),
		ReportPath: *output,
	}

	if *status {
		if !lt.printStatus(ctx) {
			os.Exit(1)
		}
		return
	}

	if err := lt.discoverModels(ctx); err != nil {
		logger.AppLogger.Fatal("%v", err)
	}

	if *format == "" {
		if err := lt.runCli(ctx); err != nil {
			logger.AppLogger.Fatal("Error running load test: %v", err)
		}
		return
	}

	result, err := lt.run(ctx)
	if err != nil {
		logger.AppLogger.Fatal("Error running load test: %v", err)
	}

	var out string
	if *format == "json" {
		out, err = result.Json()
	} else {
		out, err = result.Yaml()
	}
	if err != nil {
		logger.AppLogger.Fatal("Error formatting load test result: %v", err)
	}
	fmt.Println(out)
}
