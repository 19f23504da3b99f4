// Package tracing provides lightweight request tracing.
//
// The dispatcher opens one span per remote call; transports forward the
// trace and span ids to the server as gRPC metadata (x-trace-id, x-span-id)
// or HTTP headers (X-Trace-ID, X-Span-ID), where GRPCUnaryInterceptor and
// HTTPMiddleware continue the trace. Finished spans are logged at debug
// level by a background collector.
package tracing
