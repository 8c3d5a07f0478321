package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
)

const RequestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or mints one, echoes it back and
// stores it on the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// AccessLog logs one line per request, levelled by status.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", requestID(c),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			attrs = append(attrs, "query", q)
		}
		switch {
		case status >= 500:
			logger.Error("http.request", attrs...)
		case status >= 400:
			logger.Warn("http.request", attrs...)
		default:
			logger.Info("http.request", attrs...)
		}
	}
}

// Recovery turns a handler panic into a 500 carrying the request id.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("http.panic",
					"error", rec,
					"request_id", requestID(c),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal",
					"request_id": requestID(c),
				})
			}
		}()
		c.Next()
	}
}
