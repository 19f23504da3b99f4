package objectrpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// DefaultCallTimeout bounds a single call when the caller sets no deadline.
const DefaultCallTimeout = 10 * time.Second

const maxMsgSize = 10 * 1024 * 1024

// Client is a remote.Transport over a gRPC connection.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout bounds every call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// DialOptions are the connection settings Dial uses.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// pings only while calls are active, to stay under the server's ping policy
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}
}

// Dial connects to an object service at addr. The connection is
// established lazily on the first call.
func Dial(addr string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(addr, DialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial object service: %w", err)
	}
	c := NewClient(conn, opts...)
	c.closer = conn.Close
	return c, nil
}

// NewClient uses an existing connection; Close leaves it open.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultCallTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// Send implements remote.Transport.
func (c *Client) Send(ctx context.Context, call remote.Call) (remote.Response, error) {
	req, err := callToStruct(call)
	if err != nil {
		return remote.Response{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	callCtx = tracing.OutgoingContext(callCtx)

	out := &structpb.Struct{}
	start := time.Now()
	if err := c.conn.Invoke(callCtx, InvokeMethod, req, out); err != nil {
		if ctx.Err() != nil {
			return remote.Response{}, remote.Cancelled(ctx.Err())
		}
		return remote.Response{}, &remote.TransportError{Op: "invoke " + call.Method, Err: err}
	}

	reply, err := structToReply(out)
	if err != nil {
		return remote.Response{}, err
	}
	c.logger.Debug("Invoke completed",
		zap.String("method", call.Method),
		zap.String("object", call.ObjectID),
		zap.Duration("duration", time.Since(start)))
	return reply.Outcome()
}
