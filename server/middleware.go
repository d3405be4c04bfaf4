package server

import (
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llmloadtest/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig returns default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Cache-Control", "X-Requested-With"},
		MaxAge:       86400,
	}
}

// LoadCORSConfigFromEnv reads CORS_ORIGIN as a comma-separated origin list.
func LoadCORSConfigFromEnv() CORSConfig {
	config := DefaultCORSConfig()

	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		config.AllowOrigins = splitTrim(origins)
	}
	if methods := os.Getenv("CORS_ALLOW_METHODS"); methods != "" {
		config.AllowMethods = splitTrim(methods)
	}

	if os.Getenv("GIN_MODE") == "release" && len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
		logger.AppLogger.Warn("CORS is set to allow all origins in production mode. Consider setting CORS_ORIGIN environment variable.")
	}
	return config
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// CORSMiddleware adds CORS headers to allow dashboard access
func CORSMiddleware() gin.HandlerFunc {
	config := LoadCORSConfigFromEnv()

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range config.AllowOrigins {
				if allowed == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Add("Vary", "Origin")
					break
				}
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware tags every request with an ID, reusing the caller's
// X-Request-ID when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogContext(c *gin.Context) *logger.LogContext {
	return &logger.LogContext{
		RequestID: c.GetString(requestIDKey),
		JobID:     c.Param("jobId"),
	}
}

// LoggingMiddleware logs one line per request, leveled by status code.
// Streams are logged when they close.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"method":   c.Request.Method,
			"route":    c.FullPath(),
			"status":   statusCode,
			"duration": time.Since(startTime).String(),
			"ip":       c.ClientIP(),
		}
		if c.FullPath() == "" {
			fields["path"] = c.Request.URL.Path
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		log := logger.AppLogger.WithContext(requestLogContext(c))
		switch {
		case statusCode >= 500:
			log.ErrorWithFields("Request handled", fields)
		case statusCode >= 400:
			log.WarnWithFields("Request handled", fields)
		default:
			log.InfoWithFields("Request handled", fields)
		}
	}
}

// ErrorHandlingMiddleware renders errors attached with c.Error as JSON
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode == http.StatusOK {
			statusCode = http.StatusInternalServerError
		}
		c.JSON(statusCode, ErrorResponse{
			Error:   http.StatusText(statusCode),
			Message: c.Errors.Last().Error(),
			Code:    statusCode,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.AppLogger.WithContext(requestLogContext(c)).ErrorWithFields("Panic recovered", map[string]interface{}{
					"error": err,
					"stack": string(debug.Stack()),
				})

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred. Please try again later.",
					Code:    http.StatusInternalServerError,
				})
			}
		}()

		c.Next()
	}
}

// RequestValidationMiddleware requires a JSON content type on POST bodies.
// Bodyless POSTs such as cancellations pass through.
func RequestValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
			if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, ErrorResponse{
					Error:   "Unsupported Media Type",
					Message: "Content-Type must be application/json",
					Code:    http.StatusUnsupportedMediaType,
				})
				return
			}
		}

		c.Next()
	}
}

// SecurityHeadersMiddleware adds security-related HTTP headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if os.Getenv("GIN_MODE") == "release" {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
