package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vboxremote/internal/config"
	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/logging"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/sandbox"
)

func newServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv := sandbox.New(sandbox.WithUser("admin", "secret"))
	opts = append([]Option{WithTransport(remote.Local(srv)), WithLogger(logging.Nop())}, opts...)
	s, err := NewServer(context.Background(), cfg, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, s.Shutdown(context.Background()))
	})
	return s, ts
}

func post(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestBridgeServesAPI(t *testing.T) {
	s, ts := newServer(t, config.Default())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	resp, body := post(t, ts.URL+"/sessions", map[string]string{"user": "admin", "password": "secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["id"].(string)
	assert.Len(t, s.Sessions().List(), 1)

	resp, body = post(t, ts.URL+"/sessions/"+id+"/invoke", map[string]string{"method": "getVersion"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, sandbox.Version, body["result"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "vboxremote_sessions_active 1")
	assert.Contains(t, string(metrics), "vboxremote_transport_calls_total")
	assert.Contains(t, string(metrics), "go_goroutines")
}

func TestBridgeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	s, ts := newServer(t, cfg, WithRedis(client))
	assert.IsType(t, &events.RedisBus{}, s.Events())

	resp, body := post(t, ts.URL+"/sessions", map[string]string{"user": "admin", "password": "secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["id"].(string)
	assert.True(t, mr.Exists("vbox:session:"+id))

	post(t, ts.URL+"/sessions/"+id+"/invoke", map[string]string{"method": "getVersion"})
	resp, body = post(t, ts.URL+"/sessions/"+id+"/freeze", map[string]any{"store": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotEmpty(t, body["key"])
}

func TestDial(t *testing.T) {
	cfg := config.Default().Remote

	cfg.Transport = config.TransportHTTP
	tr, closer, err := Dial(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Nil(t, closer)

	cfg.Transport = config.TransportGRPC
	tr, closer, err = Dial(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())

	cfg.Transport = "carrier-pigeon"
	_, _, err = Dial(cfg, nil)
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"localhost:18083":         "http://localhost:18083",
		"https://vbox.lan:18083/": "https://vbox.lan:18083",
		"http://10.0.0.2:8080":    "http://10.0.0.2:8080",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseURL(in), in)
	}
}
