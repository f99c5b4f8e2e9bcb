package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// quietPaths are scraped or probed continuously; their summary lines go to Debug.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// Middleware injects a request_id logger into both the gin and request contexts
// and logs a summary line per request. 5xx and handler errors log at Error, 4xx at Warn.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		// Auth may have replaced the logger with one carrying user_id.
		out := FromGin(c)
		switch {
		case len(c.Errors) > 0:
			out.Error("request", append(attrs, "errors", c.Errors.String())...)
		case status >= 500:
			out.Error("request", attrs...)
		case status >= 400:
			out.Warn("request", attrs...)
		default:
			if _, quiet := quietPaths[path]; quiet {
				out.Debug("request", attrs...)
				return
			}
			out.Info("request", attrs...)
		}
	}
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
