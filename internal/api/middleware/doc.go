// Package middleware provides the bridge's HTTP middleware.
//
// Middleware stack includes:
//   - CORS: cross-origin access, exposing trace and request ids
//   - RateLimit: per-session (or per-IP) token bucket rate limiting
//   - RequestID: request ids for correlating logs
//   - Logger: one zap line per request
//
// Example Usage:
//
//	router.Use(middleware.RequestID(), middleware.Logger(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
