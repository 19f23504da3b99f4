package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// TransportSuccess classifies transport results for a breaker. A fault
// means the server answered, and a cancelled call says nothing about the
// server, so neither counts as a failure.
func TransportSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, remote.ErrRemoteFault) ||
		errors.Is(err, remote.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}

// Transport guards another transport with a circuit breaker and an
// optional client-side rate limit.
type Transport struct {
	next    remote.Transport
	breaker *Breaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// GuardOption configures Guard.
type GuardOption func(*Transport)

// WithLimiter throttles calls through limiter.
func WithLimiter(limiter *rate.Limiter) GuardOption {
	return func(t *Transport) { t.limiter = limiter }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(t *Transport) { t.logger = logger }
}

// Guard wraps next. A nil breaker gets one with default settings and
// TransportSuccess as its classifier.
func Guard(next remote.Transport, breaker *Breaker, opts ...GuardOption) *Transport {
	if breaker == nil {
		breaker = New("transport", Settings{IsSuccessful: TransportSuccess})
	}
	t := &Transport{next: next, breaker: breaker, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Breaker returns the circuit breaker in front of the transport.
func (t *Transport) Breaker() *Breaker { return t.breaker }

// Send implements remote.Transport. Rejections by the breaker or limiter
// surface as *remote.TransportError.
func (t *Transport) Send(ctx context.Context, call remote.Call) (remote.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return remote.Response{}, remote.Cancelled(ctx.Err())
			}
			return remote.Response{}, &remote.TransportError{Op: "throttle " + call.Method, Err: err}
		}
	}

	resp, err := Execute(t.breaker, func() (remote.Response, error) {
		return t.next.Send(ctx, call)
	})
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		t.logger.Warn("Call rejected by circuit breaker",
			zap.String("breaker", t.breaker.Name()),
			zap.String("method", call.Method),
			zap.Stringer("state", t.breaker.State()))
		return remote.Response{}, &remote.TransportError{Op: "send " + call.Method, Err: err}
	}
	return resp, err
}
