package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const headerRequestID = "X-Request-Id"

// RequestLogger tags each request with a request id and logs a summary.
// Successful requests are logged at debug unless verbose is set.
func RequestLogger(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || c.Writer.Status() >= 500:
			ev = log.Error().Str("errors", c.Errors.String())
		case verbose:
			ev = log.Info()
		default:
			ev = log.Debug()
		}
		ev.Str("module", "adapters.http").
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
