package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSpanParenting(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Empty(t, parent.ParentID)
}

func TestTraceRecordsError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	boom := errors.New("boom")
	err := tracer.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.SetTag("entity_type", "CONTACT")
		return boom
	})
	require.ErrorIs(t, err, boom)

	tracer.Close()
	entries := logs.FilterMessage("span completed with error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "CONTACT", entries[0].ContextMap()["entity_type"])
}

func TestInjectTraceContext(t *testing.T) {
	ctx := WithTraceContext(context.Background(), "trace-1", "span-1")
	headers := map[string]string{}
	InjectTraceContext(ctx, headers)

	assert.Equal(t, "trace-1", headers[HeaderTraceID])
	assert.Equal(t, "span-1", headers[HeaderSpanID])
	assert.Len(t, Fields(ctx), 1)
	assert.Nil(t, Fields(context.Background()))
}

func TestHTTPMiddlewarePropagatesTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/ping", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderTraceID, "incoming")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, TraceID("incoming"), seen)
	assert.Equal(t, "incoming", rec.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, rec.Header().Get(HeaderSpanID))
}

func TestSubmitAfterClose(t *testing.T) {
	tracer := New("test", zap.NewNop())
	tracer.Close()
	span, _ := tracer.StartSpan(context.Background(), "late")
	assert.NotPanics(t, func() { tracer.Submit(span) })
	assert.NotPanics(t, tracer.Close)
}
