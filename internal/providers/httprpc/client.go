// Package httprpc carries remote calls as JSON over HTTP.
package httprpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// InvokePath is where servers accept calls.
const InvokePath = "/rpc/invoke"

// HeaderRequestID identifies a call in server logs.
const HeaderRequestID = "X-Request-ID"

type idempotentKey struct{}

// checkRetry retries only calls marked idempotent; everything else gets
// exactly one attempt.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ok, _ := ctx.Value(idempotentKey{}).(bool); !ok {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Config configures a Client.
type Config struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// Client is a remote.Transport over HTTP.
type Client struct {
	resty  *resty.Client
	logger *zap.Logger
}

// New creates a client for the server at baseURL, e.g. http://host:18083.
func New(baseURL string, cfg Config) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = checkRetry
	retryClient.Logger = nil

	// retries happen below resty, where the idempotency flag is visible
	r := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "vboxremote-http/1.0")

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{resty: r, logger: logger}
}

// Send implements remote.Transport.
func (c *Client) Send(ctx context.Context, call remote.Call) (remote.Response, error) {
	body, err := remote.MarshalCall(call)
	if err != nil {
		return remote.Response{}, fmt.Errorf("%w: %v", remote.ErrEncode, err)
	}

	headers := map[string]string{HeaderRequestID: uuid.NewString()}
	tracing.InjectHeaders(ctx, headers)

	resp, err := c.resty.R().
		SetContext(context.WithValue(ctx, idempotentKey{}, call.Idempotent)).
		SetHeaders(headers).
		SetBody(body).
		Post(InvokePath)
	if err != nil {
		if ctx.Err() != nil {
			return remote.Response{}, remote.Cancelled(ctx.Err())
		}
		return remote.Response{}, &remote.TransportError{Op: "post " + call.Method, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return remote.Response{}, &remote.TransportError{
			Op:  "post " + call.Method,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	reply, err := remote.UnmarshalReply(resp.Body())
	if err != nil {
		return remote.Response{}, err
	}
	c.logger.Debug("Invoke completed",
		zap.String("method", call.Method),
		zap.String("request_id", headers[HeaderRequestID]),
		zap.Duration("duration", resp.Time()))
	return reply.Outcome()
}
