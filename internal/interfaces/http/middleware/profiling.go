package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/itechsmart/sentinel/internal/infrastructure/telemetry"
)

// Profiling attaches route and method pprof labels to the request so
// Pyroscope profiles can be split per endpoint. Paths in skipPaths are not labelled.
func Profiling(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if skip[c.Request.URL.Path] || route == "" {
			c.Next()
			return
		}
		telemetry.WithProfilingLabels(c.Request.Context(), telemetry.HTTPRequestLabels(route, c.Request.Method), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
