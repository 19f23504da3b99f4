package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a remote call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	iface   string
	method  string
}

// NewTimer starts a timer for one remote call.
func NewTimer(metrics *Metrics, iface, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		iface:   iface,
		method:  method,
	}
}

// Stop records the call with its status and returns the elapsed time.
func (t *Timer) Stop(status string) time.Duration {
	d := time.Since(t.start)
	t.metrics.RecordTransportCall(t.iface, t.method, status, d)
	return d
}
