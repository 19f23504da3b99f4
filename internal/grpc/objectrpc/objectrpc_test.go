package objectrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

type backendFunc func(ctx context.Context, call remote.Call) (remote.Response, error)

func (f backendFunc) Handle(ctx context.Context, call remote.Call) (remote.Response, error) {
	return f(ctx, call)
}

type harness struct {
	client *Client
	server *grpc.Server
	conn   *grpc.ClientConn
}

func start(t *testing.T, backend remote.Backend, opts ...Option) *harness {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(backend, nil, nil)
	go func() { _ = srv.Serve(lis) }()

	dial := append(DialOptions(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	conn, err := grpc.NewClient("passthrough:///bufnet", dial...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return &harness{client: NewClient(conn, opts...), server: srv, conn: conn}
}

func TestInvokeRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var got remote.Call
	h := start(t, backendFunc(func(_ context.Context, call remote.Call) (remote.Response, error) {
		mu.Lock()
		got = call
		mu.Unlock()
		return remote.Response{Type: remote.TypeRefList, Values: []string{"m-1", "m-2"}, Kind: remote.KindMachine}, nil
	}))

	call := remote.Call{
		SessionID: "sess-1",
		ObjectID:  "vbox-1",
		Method:    "IVirtualBox_getMachines",
		Args: []remote.Arg{
			{Name: "names", Type: remote.TypeStringList, Values: []string{"a", "b"}},
			{Name: "memory", Type: remote.TypeUnsignedInt, Value: "2048"},
		},
		Idempotent: true,
	}
	resp, err := h.client.Send(context.Background(), call)
	require.NoError(t, err)

	assert.Equal(t, remote.TypeRefList, resp.Type)
	assert.Equal(t, []string{"m-1", "m-2"}, resp.Values)
	assert.Equal(t, remote.KindMachine, resp.Kind)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, call, got)
}

func TestFaultsTravelInBand(t *testing.T) {
	h := start(t, backendFunc(func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Response{}, remote.Faultf(remote.FaultObjectNotFound, "no machine m-9")
	}))

	_, err := h.client.Send(context.Background(), remote.Call{Method: "IMachine_getName", ObjectID: "m-9"})
	require.Error(t, err)
	assert.True(t, remote.IsFault(err, remote.FaultObjectNotFound))
	assert.False(t, errors.Is(err, remote.ErrTransport))
	assert.Contains(t, err.Error(), "no machine m-9")
}

func TestBackendErrorsBecomeInternalFaults(t *testing.T) {
	h := start(t, backendFunc(func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Response{}, errors.New("database is locked")
	}))

	_, err := h.client.Send(context.Background(), remote.Call{Method: "IMachine_getName"})
	assert.True(t, remote.IsFault(err, remote.FaultInternal))
}

func TestTraceContextPropagates(t *testing.T) {
	traces := make(chan tracing.TraceID, 1)
	h := start(t, backendFunc(func(ctx context.Context, _ remote.Call) (remote.Response, error) {
		traces <- tracing.GetTraceID(ctx)
		return remote.Void, nil
	}))

	ctx := tracing.WithTrace(context.Background(), "trace-42", "span-7")
	_, err := h.client.Send(ctx, remote.Call{Method: "IConsole_pause"})
	require.NoError(t, err)
	assert.Equal(t, tracing.TraceID("trace-42"), <-traces)
}

func TestCancellation(t *testing.T) {
	entered := make(chan struct{})
	h := start(t, backendFunc(func(ctx context.Context, _ remote.Call) (remote.Response, error) {
		close(entered)
		<-ctx.Done()
		return remote.Void, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	_, err := h.client.Send(ctx, remote.Call{Method: "IProgress_waitForCompletion"})
	assert.True(t, errors.Is(err, remote.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCallTimeoutIsTransportError(t *testing.T) {
	h := start(t, backendFunc(func(ctx context.Context, _ remote.Call) (remote.Response, error) {
		<-ctx.Done()
		return remote.Void, nil
	}), WithCallTimeout(50*time.Millisecond))

	_, err := h.client.Send(context.Background(), remote.Call{Method: "IProgress_waitForCompletion"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrTransport))

	var terr *remote.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(terr.Err))
}

func TestServerDownIsTransportError(t *testing.T) {
	h := start(t, backendFunc(func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Void, nil
	}), WithCallTimeout(time.Second))
	h.server.Stop()

	_, err := h.client.Send(context.Background(), remote.Call{Method: "IConsole_pause"})
	assert.True(t, errors.Is(err, remote.ErrTransport))
}

func TestMalformedCallRejected(t *testing.T) {
	h := start(t, backendFunc(func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Void, nil
	}))

	// a call without a method cannot be decoded by the server
	_, err := h.client.Send(context.Background(), remote.Call{ObjectID: "m-1"})
	var terr *remote.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, codes.InvalidArgument, status.Code(terr.Err))
}
