package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"llmloadtest/internal/api"
	"llmloadtest/internal/config"
	"llmloadtest/internal/logger"
	"llmloadtest/server"
)

const jobRetention = time.Hour

func Run() error {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.DebugMode)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	insecure := strings.EqualFold(os.Getenv("INSECURE_SKIP_TLS_VERIFY"), "true")
	if insecure {
		logger.AppLogger.Warn("Skipping TLS certificate verification for backend requests")
	}
	httpClient := api.NewHTTPClient(insecure)

	handlers := server.NewHandlers(cfg, api.NewClient(httpClient), httpClient)

	router := gin.New()
	server.SetupRoutes(router, handlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", port),
		Handler:        router,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   0, // SSE, websockets and synchronous sweeps stay open
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				handlers.Jobs.CleanupOldJobs(jobRetention)
			}
		}
	}()

	go func() {
		logger.AppLogger.Info("Server starting on port %s", port)
		logger.AppLogger.Info("vLLM backend: %s, Ollama backend: %s", cfg.VLLM.URL, cfg.Ollama.URL)
		logger.AppLogger.Info("API endpoints available at http://localhost:%s/api", port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.AppLogger.Fatal("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.AppLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.AppLogger.Error("Server forced to shutdown: %v", err)
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.AppLogger.Info("Server exited gracefully")
	return nil
}
