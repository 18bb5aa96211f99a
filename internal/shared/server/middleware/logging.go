package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docmind-backend/internal/shared/telemetry"
)

// DocumentIDKey is set by handlers that resolve a document so it is logged.
const DocumentIDKey = "documentId"

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"bytes_out":   c.Writer.Size(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if ownerID := OwnerIDFromContext(c); ownerID > 0 {
			fields["owner_id"] = ownerID
		}
		if documentID, ok := c.Get(DocumentIDKey); ok {
			fields["document_id"] = documentID
		}
		telemetry.Info("request.complete", fields)
	}
}
