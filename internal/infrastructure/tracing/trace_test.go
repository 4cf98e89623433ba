package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/id"
)

func TestStartSpanPropagatesTrace(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, _ := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Equal(t, parent.TraceID, GetTraceID(ctx))
}

func TestSetErrorRecordsErrno(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "safecopy")
	span.SetError(nil)
	assert.Empty(t, span.Error)

	span.SetError(errno.ErrPerm)
	assert.Equal(t, errno.ErrPerm.Code, span.Status)
	assert.NotEmpty(t, span.Error)
}

func TestSubscribeReceivesSpans(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	feed, cancel := tracer.Subscribe(4)
	defer cancel()

	span, _ := tracer.StartSpan(context.Background(), "spawn")
	span.SetTag("endpoint", "1/1")
	span.Finish()
	tracer.Submit(span)

	select {
	case got := <-feed:
		assert.Equal(t, "spawn", got.Name)
		assert.Equal(t, "1/1", got.Tags["endpoint"])
	case <-time.After(time.Second):
		t.Fatal("span not delivered")
	}
}

func TestCancelClosesFeed(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	feed, cancel := tracer.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-feed
	require.False(t, ok)
}

func TestInjectExtract(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "op")
	headers := map[string]string{}
	InjectTraceContext(ctx, headers)

	traceID, spanID := ExtractTraceContext(headers)
	assert.Equal(t, span.TraceID, traceID)
	assert.Equal(t, span.SpanID, spanID)
}

func TestHTTPMiddlewareContinuesTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", zap.NewNop())
	defer tracer.Close()
	feed, cancel := tracer.Subscribe(4)
	defer cancel()

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/api/processes/:ep", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	upstream := id.NewTraceID()
	req := httptest.NewRequest("GET", "/api/processes/vfs", nil)
	req.Header.Set("X-Trace-ID", upstream.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, upstream.String(), w.Header().Get("X-Trace-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Span-ID"))

	select {
	case span := <-feed:
		assert.Equal(t, "http GET /api/processes/:ep", span.Name)
		assert.Equal(t, "vfs", span.Tags["http.param.ep"])
		assert.Equal(t, "404", span.Tags["http.status"])
		assert.Equal(t, upstream, span.TraceID)
	case <-time.After(time.Second):
		t.Fatal("span not delivered")
	}

	req = httptest.NewRequest("GET", "/api/processes/pm", nil)
	req.Header.Set("X-Trace-ID", "garbage")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEqual(t, "garbage", w.Header().Get("X-Trace-ID"))
	<-feed

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Empty(t, w.Header().Get("X-Trace-ID"))
}
