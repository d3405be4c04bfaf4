package main

import (
	"llmloadtest/cmd/server"
	"llmloadtest/internal/logger"
)

func main() {
	if err := server.Run(); err != nil {
		logger.AppLogger.Fatal("Server failed to start: %v", err)
	}
}
