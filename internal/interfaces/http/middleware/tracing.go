package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing returns otelgin followed by a handler that tags the request span
// with the request ID and the authenticated operator. Routes in skipPaths
// are not traced. Register both with r.Use(Tracing(...)...).
func Tracing(serviceName string, skipPaths ...string) []gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	base := otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return !skip[r.URL.Path]
	}))
	return []gin.HandlerFunc{base, enrichSpan}
}

// enrichSpan runs inside the otelgin span; attributes are set after the
// rest of the chain so the JWT middleware has identified the operator.
func enrichSpan(c *gin.Context) {
	c.Next()

	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}
	if id := GetRequestID(c); id != "" {
		span.SetAttributes(attribute.String("request_id", id))
	}
	if op := c.GetString(JWTUsernameKey); op != "" {
		span.SetAttributes(attribute.String("operator", op))
	}
}
