package server

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/vboxremote/internal/config"
	"github.com/GriffinCanCode/vboxremote/internal/grpc/objectrpc"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/vboxremote/internal/providers/httprpc"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Dial opens the configured transport to the virtualization server. The
// closer, nil for HTTP, releases its connection.
func Dial(cfg config.RemoteConfig, logger *zap.Logger) (remote.Transport, io.Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Transport) {
	case config.TransportGRPC:
		c, err := objectrpc.Dial(cfg.Endpoint,
			objectrpc.WithCallTimeout(cfg.CallTimeout),
			objectrpc.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.TransportHTTP:
		hc := httprpc.DefaultConfig()
		hc.Timeout = cfg.CallTimeout
		hc.RetryMax = cfg.RetryMax
		hc.Logger = logger
		return httprpc.New(BaseURL(cfg.Endpoint), hc), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// BaseURL turns an endpoint into an HTTP base URL; a bare host:port gets
// the http scheme.
func BaseURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/")
	}
	return "http://" + strings.TrimRight(endpoint, "/")
}

// Guard puts the breaker and, when enabled, the client-side rate limit in
// front of next.
func Guard(next remote.Transport, cfg *config.Config, logger *zap.Logger) *resilience.Transport {
	breaker := resilience.New("vbox", resilience.Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      cfg.Breaker.Timeout,
		ReadyToTrip:  resilience.ConsecutiveFailures(cfg.Breaker.MaxFailures),
		IsSuccessful: resilience.TransportSuccess,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Transport breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	opts := []resilience.GuardOption{resilience.WithLogger(logger)}
	if cfg.RateLimit.Enabled {
		opts = append(opts, resilience.WithLimiter(
			rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)))
	}
	return resilience.Guard(next, breaker, opts...)
}
