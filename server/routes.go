package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.Use(RequestIDMiddleware())
	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())

	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", h.HealthHandler)
		api.GET("/status", h.StatusHandler)
		api.GET("/models", h.ModelsHandler)

		api.POST("/test", h.RunTestHandler)
		api.POST("/test/async", h.StartTestHandler)

		api.GET("/jobs", h.ListJobsHandler)
		api.GET("/jobs/:jobId", h.GetJobHandler)
		api.POST("/jobs/:jobId/cancel", h.CancelJobHandler)
		api.GET("/jobs/:jobId/stream", h.StreamJobHandler)
		api.GET("/jobs/:jobId/ws", h.JobWebSocketHandler)

		api.POST("/export/json", h.ExportJSONHandler)
		api.POST("/export/csv", h.ExportCSVHandler)
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "LLM Streaming Load Test API",
			"version": version,
			"status":  "ok",
			"endpoints": gin.H{
				"health": "/api/health",
				"status": "/api/status",
				"models": "/api/models",
				"test":   "/api/test",
				"async":  "/api/test/async",
				"jobs":   "/api/jobs",
				"export": gin.H{
					"json": "/api/export/json",
					"csv":  "/api/export/csv",
				},
			},
		})
	})

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}
