// Package http is the bridge API: it exposes sessions, remote calls,
// snapshots and machine actions to UI consumers over JSON.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// SnapshotStore keeps frozen containers for other processes to thaw.
type SnapshotStore interface {
	Save(ctx context.Context, key string, c snapshot.Container) error
	Load(ctx context.Context, key string) (snapshot.Container, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *session.Manager
	snapshots SnapshotStore
	breaker   *resilience.Breaker
	logger    *zap.Logger
	started   time.Time
}

// Option configures Handlers.
type Option func(*Handlers)

// WithSnapshotStore enables storing snapshots by key.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(h *Handlers) { h.snapshots = s }
}

// WithBreaker reports the transport's circuit breaker in health checks.
func WithBreaker(b *resilience.Breaker) Option {
	return func(h *Handlers) { h.breaker = b }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Manager, opts ...Option) *Handlers {
	h := &Handlers{sessions: sessions, logger: zap.NewNop(), started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.Logon)
	s := r.Group("/sessions/:session")
	s.DELETE("", h.Logoff)
	s.POST("/reattach", h.Reattach)
	s.POST("/invoke", h.Invoke)
	s.POST("/invalidate", h.Invalidate)
	s.POST("/freeze", h.Freeze)
	s.POST("/thaw", h.Thaw)
	s.GET("/machines", h.ListMachines)
	s.POST("/machines/:machine/:action", h.MachineAction)
	s.GET("/machines/:machine/metrics", h.MachineMetrics)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "vboxremote bridge",
		"version": Version,
	})
}

// Health reports sessions and the transport breaker state
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	body := gin.H{
		"sessions":       len(h.sessions.List()),
		"uptime_seconds": time.Since(h.started).Seconds(),
	}
	if h.breaker != nil {
		state := h.breaker.State()
		if state == resilience.StateOpen {
			status = "degraded"
		}
		counts := h.breaker.Counts()
		body["transport"] = gin.H{
			"breaker":              state.String(),
			"consecutive_failures": counts.ConsecutiveFailures,
		}
	}
	body["status"] = status
	c.JSON(http.StatusOK, body)
}

type logonRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type sessionInfo struct {
	ID        string     `json:"id"`
	User      string     `json:"user"`
	Root      remote.Ref `json:"root"`
	Aliases   []string   `json:"aliases,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func infoOf(s *session.Session) sessionInfo {
	return sessionInfo{
		ID:        s.ID(),
		User:      s.User(),
		Root:      s.Root(),
		Aliases:   s.Aliases(),
		CreatedAt: s.CreatedAt(),
	}
}

// Logon opens a session
func (h *Handlers) Logon(c *gin.Context) {
	var req logonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.Logon(c.Request.Context(), req.User, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, infoOf(s))
}

// ListSessions lists the open sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	list := h.sessions.List()
	out := make([]sessionInfo, len(list))
	for i, s := range list {
		out[i] = infoOf(s)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Logoff ends a session
func (h *Handlers) Logoff(c *gin.Context) {
	if err := h.sessions.Logoff(c.Request.Context(), c.Param("session")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reattach logs on again for a session lost in a server restart
func (h *Handlers) Reattach(c *gin.Context) {
	var req logonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.Reattach(c.Request.Context(), c.Param("session"), req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, infoOf(s))
}

// session resolves the path's session, aborting the request if it is gone.
func (h *Handlers) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("session"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return s, true
}

// objectRequest names an object of a session. An empty object with
// interface IVirtualBox, or no interface at all, is the session's root.
type objectRequest struct {
	Object    string `json:"object"`
	Interface string `json:"interface"`
}

func (r objectRequest) ref(s *session.Session) (remote.Ref, error) {
	if r.Object == "" && (r.Interface == "" || r.Interface == string(remote.KindVirtualBox)) {
		return s.Root(), nil
	}
	if r.Object == "" {
		return remote.Ref{}, errors.New("object is required")
	}
	kind, err := remote.ParseKind(r.Interface)
	if err != nil {
		return remote.Ref{}, fmt.Errorf("%w: %v", remote.ErrEncode, err)
	}
	return remote.NewRef(r.Object, kind, s.ID()), nil
}
