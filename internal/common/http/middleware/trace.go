package middleware

import (
	"context"
	"strings"

	"arena/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
)

// TraceContextMiddleware ensures trace and request ids exist on the gin context,
// the request context and the response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = propagate(c, ctx, traceIDHeader, traceIDContextKey, contextkey.TraceID)
		ctx = propagate(c, ctx, requestIDHeader, requestIDContextKey, contextkey.RequestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func propagate(c *gin.Context, ctx context.Context, header, ginKey string, ctxKey interface{}) context.Context {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		value = uuid.NewString()
	}
	c.Set(ginKey, value)
	c.Writer.Header().Set(header, value)
	return context.WithValue(ctx, ctxKey, value)
}
