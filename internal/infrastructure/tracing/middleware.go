package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/id"
)

// untraced routes are polled or long-lived and would flood the span feed.
var untraced = map[string]bool{
	"/metrics": true,
	"/events":  true,
}

// HTTPMiddleware opens one span per admin request, continuing the caller's trace when the
// X-Trace-ID and X-Span-ID headers carry valid ids, and echoes the span ids back as headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if untraced[route] {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		traceID, parentID := ExtractTraceContext(map[string]string{
			"X-Trace-ID": c.GetHeader("X-Trace-ID"),
			"X-Span-ID":  c.GetHeader("X-Span-ID"),
		})
		// Malformed upstream ids start a fresh trace.
		if id.IsValid(traceID.String()) {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
			if id.IsValid(parentID.String()) {
				ctx = context.WithValue(ctx, spanIDKey, parentID)
			}
		}
		if route == "" {
			route = "unmatched"
		}

		span, ctx := tracer.StartSpan(ctx, "http "+c.Request.Method+" "+route)
		for _, p := range c.Params {
			span.SetTag("http.param."+p.Key, p.Value)
		}
		c.Request = c.Request.WithContext(ctx)

		out := make(map[string]string, 2)
		InjectTraceContext(ctx, out)
		for k, v := range out {
			c.Header(k, v)
		}

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last().Err)
		}
		span.Finish()
		tracer.Submit(span)
	}
}
