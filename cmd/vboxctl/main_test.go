package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/grpc/objectrpc"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/sandbox"
)

func serveSandbox(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tracer := tracing.New("test", zap.NewNop())
	gs := objectrpc.NewServer(sandbox.New(), zap.NewNop(), tracer)
	go gs.Serve(lis)
	t.Cleanup(func() {
		gs.Stop()
		tracer.Close()
	})
	return lis.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMachinesAgainstSandbox(t *testing.T) {
	addr := serveSandbox(t)
	t.Setenv("LOG_LEVEL", "error")

	out, err := execute(t, "--endpoint", addr, "--user", "vbox", "--password", "vbox", "machines")
	require.NoError(t, err, out)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "ubuntu-server")
	assert.Contains(t, out, "alpine-edge")
	assert.Contains(t, out, "PoweredOff")
	assert.Equal(t, addr, cfg.Remote.Endpoint)
}

func TestLoadConfigRejectsUnknownTransport(t *testing.T) {
	_, err := execute(t, "--transport", "carrier-pigeon", "machines")
	assert.Error(t, err)
}

func TestNum(t *testing.T) {
	tests := map[float64]string{
		0:       "0",
		12.5:    "12.5",
		3.14159: "3.14",
		100:     "100",
	}
	for in, want := range tests {
		assert.Equal(t, want, num(in))
	}
}
