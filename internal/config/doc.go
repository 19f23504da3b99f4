// Package config provides 12-factor configuration for vboxctl and the bridge.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables.
//
// Configuration Sections:
//   - Server: bridge listen address (port, host)
//   - Remote: virtualization server endpoint, transport and credentials
//   - Progress: progress polling interval
//   - Redis: snapshot store, event bus and session records
//   - Logging: log level and output format
//   - RateLimit: client-side throttle on transport calls
//   - Breaker: circuit breaker around the transport
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Connecting to %s over %s\n", cfg.Remote.Endpoint, cfg.Remote.Transport)
//
// Environment Variables:
//   - PORT, HOST
//   - VBOX_ENDPOINT, VBOX_TRANSPORT, VBOX_USER, VBOX_PASSWORD, VBOX_CALL_TIMEOUT, VBOX_RETRY_MAX
//   - PROGRESS_INTERVAL
//   - REDIS_ADDR, REDIS_ENABLED, SNAPSHOT_TTL
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - BREAKER_MAX_FAILURES, BREAKER_TIMEOUT
package config
