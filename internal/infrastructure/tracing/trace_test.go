package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

func TestStartSpanChildren(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Equal(t, "test", child.Service)

	tracer.Submit(child)
	tracer.Submit(root)
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	span, ctx := tracer.StartSpan(context.Background(), "op")
	require.NotNil(t, span)
	assert.NotEmpty(t, GetTraceID(ctx))
	tracer.Submit(span)
	tracer.Close()
}

func TestInjectHeaders(t *testing.T) {
	ctx := WithTrace(context.Background(), "trace-1", "span-1")
	headers := map[string]string{}
	InjectHeaders(ctx, headers)
	assert.Equal(t, map[string]string{HeaderTraceID: "trace-1", HeaderSpanID: "span-1"}, headers)
}

func TestGRPCMetadataRoundTrip(t *testing.T) {
	out := OutgoingContext(WithTrace(context.Background(), "trace-1", "span-1"))
	md, ok := metadata.FromOutgoingContext(out)
	require.True(t, ok)

	in := IncomingContext(metadata.NewIncomingContext(context.Background(), md))
	assert.Equal(t, TraceID("trace-1"), GetTraceID(in))
	assert.Equal(t, SpanID("span-1"), GetSpanID(in))

	assert.Equal(t, context.Background(), OutgoingContext(context.Background()))
}

func TestHTTPMiddleware(t *testing.T) {
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
	req.Header.Set(HeaderTraceID, "trace-abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, TraceID("trace-abc"), seen)
	assert.Equal(t, "trace-abc", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
}
