package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/sandbox"
)

type bridge struct {
	t        *testing.T
	router   *gin.Engine
	sessions *session.Manager
}

func newBridge(t *testing.T, opts ...Option) *bridge {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := sandbox.New(sandbox.WithUser("admin", "secret"))
	sessions := session.NewManager(remote.Local(srv))
	router := gin.New()
	NewHandlers(sessions, opts...).Register(router)
	return &bridge{t: t, router: router, sessions: sessions}
}

func withRedisSnapshots(t *testing.T) Option {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store, err := snapshot.NewRedisStore(client, time.Minute)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return WithSnapshotStore(store)
}

// do sends a JSON request and decodes the JSON response, if any.
func (b *bridge) do(method, path string, body any) (int, map[string]any) {
	b.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(b.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(b.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (b *bridge) logon() string {
	b.t.Helper()
	code, body := b.do(http.MethodPost, "/sessions", gin.H{"user": "admin", "password": "secret"})
	require.Equal(b.t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestRootAndHealth(t *testing.T) {
	b := newBridge(t)

	code, body := b.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, Version, body["version"])

	b.logon()
	code, body = b.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
	assert.NotContains(t, body, "transport")
}

func TestHealthReportsOpenBreaker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	down := remote.TransportFunc(func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Response{}, &remote.TransportError{Op: "dial", Err: errors.New("connection refused")}
	})
	breaker := resilience.New("vbox", resilience.Settings{
		ReadyToTrip:  resilience.ConsecutiveFailures(1),
		IsSuccessful: resilience.TransportSuccess,
		Timeout:      time.Minute,
	})
	sessions := session.NewManager(resilience.Guard(down, breaker))
	router := gin.New()
	NewHandlers(sessions, WithBreaker(breaker)).Register(router)
	b := &bridge{t: t, router: router, sessions: sessions}

	code, body := b.do(http.MethodPost, "/sessions", gin.H{"user": "admin", "password": "secret"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "connection refused")

	code, body = b.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
	transport := body["transport"].(map[string]any)
	assert.Equal(t, "open", transport["breaker"])
	assert.EqualValues(t, 1, transport["consecutive_failures"])
}

func TestSessionLifecycle(t *testing.T) {
	b := newBridge(t)

	code, body := b.do(http.MethodPost, "/sessions", gin.H{"user": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(remote.FaultAccessDenied), body["fault"])

	code, _ = b.do(http.MethodPost, "/sessions", "not an object")
	assert.Equal(t, http.StatusBadRequest, code)

	id := b.logon()
	code, body = b.do(http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	list := body["sessions"].([]any)
	require.Len(t, list, 1)
	info := list[0].(map[string]any)
	assert.Equal(t, id, info["id"])
	assert.Equal(t, "admin", info["user"])
	root := info["root"].(map[string]any)
	assert.Equal(t, string(remote.KindVirtualBox), root["interfaceKind"])

	code, _ = b.do(http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = b.do(http.MethodPost, "/sessions/"+id+"/invoke", gin.H{"method": "getVersion"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestInvoke(t *testing.T) {
	b := newBridge(t)
	id := b.logon()
	path := "/sessions/" + id + "/invoke"

	code, body := b.do(http.MethodPost, path, gin.H{"method": "getVersion"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, sandbox.Version, body["result"])
	assert.Equal(t, string(remote.TypeString), body["type"])
	assert.Equal(t, true, body["cached"])

	code, body = b.do(http.MethodPost, path, gin.H{"method": "findMachine", "args": []string{"alpine-edge"}})
	require.Equal(t, http.StatusOK, code, body)
	machine := body["result"].(map[string]any)
	assert.Equal(t, string(remote.KindMachine), machine["interfaceKind"])
	assert.Equal(t, id, machine["sessionId"])

	code, body = b.do(http.MethodPost, path, gin.H{
		"object":    machine["objectId"],
		"interface": "IMachine",
		"method":    "getMemorySize",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 512, body["result"])

	code, body = b.do(http.MethodPost, path, gin.H{"method": "findMachine", "args": []string{"no-such-machine"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(remote.FaultObjectNotFound), body["fault"])

	code, _ = b.do(http.MethodPost, path, gin.H{"method": "getNothing"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = b.do(http.MethodPost, path, gin.H{"method": "findMachine"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = b.do(http.MethodPost, path, gin.H{"interface": "IMachine", "method": "getName"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = b.do(http.MethodPost, path, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInvalidate(t *testing.T) {
	b := newBridge(t)
	id := b.logon()

	s, err := b.sessions.Get(id)
	require.NoError(t, err)
	_, err = s.Invoke(context.Background(), s.Root(), "getVersion")
	require.NoError(t, err)
	require.Equal(t, 1, s.Cache().Len())

	code, body := b.do(http.MethodPost, "/sessions/"+id+"/invalidate", gin.H{"names": []string{"getVersion"}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, 0, s.Cache().Len())
}

func TestMachines(t *testing.T) {
	b := newBridge(t)
	id := b.logon()

	code, body := b.do(http.MethodGet, "/sessions/"+id+"/machines", nil)
	require.Equal(t, http.StatusOK, code, body)
	machines := body["machines"].([]any)
	require.Len(t, machines, 3)
	names := make([]string, len(machines))
	for i, m := range machines {
		row := m.(map[string]any)
		names[i] = row["name"].(string)
		assert.Equal(t, "PoweredOff", row["state"])
	}
	assert.ElementsMatch(t, []string{"ubuntu-server", "windows-11", "alpine-edge"}, names)

	code, _ = b.do(http.MethodGet, "/sessions/"+id+"/machines?refresh=true", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMachineActions(t *testing.T) {
	b := newBridge(t)
	id := b.logon()
	base := "/sessions/" + id + "/machines/"

	code, body := b.do(http.MethodPost, base+"alpine-edge/pause", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(remote.FaultInvalidObjectState), body["fault"])

	code, body = b.do(http.MethodPost, base+"alpine-edge/start", nil)
	require.Equal(t, http.StatusAccepted, code, body)
	p := body["progress"].(map[string]any)
	assert.Equal(t, string(remote.KindProgress), p["interfaceKind"])
	assert.NotEmpty(t, p["objectId"])

	code, _ = b.do(http.MethodPost, base+"alpine-edge/explode", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = b.do(http.MethodPost, base+"no-such-machine/start", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(remote.FaultObjectNotFound), body["fault"])
}

func TestMachineMetrics(t *testing.T) {
	b := newBridge(t)
	id := b.logon()
	path := "/sessions/" + id + "/machines/ubuntu-server/metrics"

	code, body := b.do(http.MethodGet, path+"?names=CPU/Load/User&period=1&count=5", nil)
	require.Equal(t, http.StatusOK, code, body)
	metrics := body["metrics"].([]any)
	require.Len(t, metrics, 1)
	m := metrics[0].(map[string]any)
	assert.Equal(t, "CPU/Load/User", m["name"])
	assert.Equal(t, "%", m["unit"])

	code, _ = b.do(http.MethodGet, path+"?period=soon", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFreezeAndThaw(t *testing.T) {
	b := newBridge(t, withRedisSnapshots(t))
	id := b.logon()
	base := "/sessions/" + id

	code, _ := b.do(http.MethodPost, base+"/invoke", gin.H{"method": "getVersion"})
	require.Equal(t, http.StatusOK, code)

	code, body := b.do(http.MethodPost, base+"/freeze", gin.H{"store": true})
	require.Equal(t, http.StatusOK, code, body)
	key := body["key"].(string)
	require.NotEmpty(t, key)
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, id, snap["sessionId"])
	assert.Contains(t, snap["properties"], "getVersion")

	s, err := b.sessions.Get(id)
	require.NoError(t, err)
	s.ClearCacheNamed(s.Root())
	require.Equal(t, 0, s.Cache().Len())

	code, body = b.do(http.MethodPost, base+"/thaw", gin.H{"key": key, "replace": true})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []any{"getVersion"}, body["properties"])
	assert.Equal(t, 1, s.Cache().Len())

	// a second session does not accept the first one's snapshot
	other := b.logon()
	code, _ = b.do(http.MethodPost, "/sessions/"+other+"/thaw", gin.H{"key": key})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = b.do(http.MethodPost, base+"/thaw", gin.H{"key": "missing"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = b.do(http.MethodPost, base+"/thaw", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFreezeWithoutStore(t *testing.T) {
	b := newBridge(t)
	id := b.logon()

	code, body := b.do(http.MethodPost, "/sessions/"+id+"/freeze", gin.H{"store": true})
	assert.Equal(t, http.StatusNotImplemented, code)
	assert.Contains(t, body["error"], "snapshot store")

	code, body = b.do(http.MethodPost, "/sessions/"+id+"/freeze", gin.H{})
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "key")
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fault", remote.Faultf(remote.FaultAccessDenied, "no"), http.StatusForbidden},
		{"unmapped fault", remote.Faultf("Weird", "?"), http.StatusBadGateway},
		{"expired", remote.ErrSessionExpired, http.StatusUnauthorized},
		{"session missing", session.ErrNotFound, http.StatusNotFound},
		{"snapshot missing", snapshot.ErrNotFound, http.StatusNotFound},
		{"decode", remote.ErrDecode, http.StatusBadRequest},
		{"cancelled", remote.Cancelled(context.Canceled), 499},
		{"transport", &remote.TransportError{Op: "send", Err: errors.New("eof")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}
