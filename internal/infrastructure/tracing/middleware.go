package tracing

import (
	"context"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// HTTPMiddleware creates Gin middleware that continues the caller's trace
// and echoes the ids in the response headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTrace(c.Request.Context(),
			TraceID(c.GetHeader(HeaderTraceID)),
			SpanID(c.GetHeader(HeaderSpanID)))

		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+c.FullPath())
		span.SetTag("http.method", c.Request.Method)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		tracer.Submit(span)
	}
}

// OutgoingContext attaches the trace context of ctx as gRPC metadata.
func OutgoingContext(ctx context.Context) context.Context {
	var kv []string
	if traceID := GetTraceID(ctx); traceID != "" {
		kv = append(kv, metadataTraceID, string(traceID))
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		kv = append(kv, metadataSpanID, string(spanID))
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// IncomingContext restores the trace context sent as gRPC metadata.
func IncomingContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	var traceID TraceID
	var spanID SpanID
	if vals := md.Get(metadataTraceID); len(vals) > 0 {
		traceID = TraceID(vals[0])
	}
	if vals := md.Get(metadataSpanID); len(vals) > 0 {
		spanID = SpanID(vals[0])
	}
	return WithTrace(ctx, traceID, spanID)
}

// GRPCUnaryInterceptor traces server-side unary calls.
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span, ctx := tracer.StartSpan(IncomingContext(ctx), info.FullMethod)
		span.SetTag("rpc.system", "grpc")

		resp, err := handler(ctx, req)
		if err != nil {
			span.SetError(err)
		}
		tracer.Submit(span)
		return resp, err
	}
}
