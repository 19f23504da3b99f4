package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(NewRegistry())

	m.RecordCacheHit("IMachine", "getName")
	m.RecordCacheHit("IMachine", "getName")
	m.RecordCacheMiss("IMachine", "getName")
	m.RecordTransportCall("IMachine", "getName", "ok", 3*time.Millisecond)
	m.PollerStarted()
	m.PollerFinished("Succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("IMachine", "getName")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("IMachine", "getName")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportCalls.WithLabelValues("IMachine", "getName", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PollersActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollerOutcomes.WithLabelValues("Succeeded")))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheHit("IMachine", "getName")
		m.RecordTransportError("IMachine", "getName", "transport")
		m.SessionOpened("logon")
		NewTimer(m, "IMachine", "getName").Stop("ok")
	})
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/health", "200")))
}
