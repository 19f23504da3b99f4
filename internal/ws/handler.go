package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/progress"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// Message is a client request.
type Message struct {
	Type     string `json:"type"`
	Progress string `json:"progress,omitempty"`
}

// Reply is a server message.
type Reply struct {
	Type      string           `json:"type"`
	Session   string           `json:"session,omitempty"`
	Update    *progress.Update `json:"update,omitempty"`
	Event     *events.Event    `json:"event,omitempty"`
	Object    *remote.Ref      `json:"object,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Handler manages WebSocket connections
type Handler struct {
	sessions *session.Manager
	bus      events.Bus
	interval time.Duration
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithEvents enables event streaming from bus.
func WithEvents(bus events.Bus) Option {
	return func(h *Handler) { h.bus = bus }
}

// WithInterval sets the progress poll interval.
func WithInterval(d time.Duration) Option {
	return func(h *Handler) { h.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{sessions: sessions, interval: progress.DefaultInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// conn serializes writes; gorilla connections allow one writer at a time.
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *conn) send(r Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Timestamp = time.Now().Unix()
	c.metrics.RecordWSMessage("out", r.Type)
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(r)
}

func (c *conn) sendError(msg string) error {
	return c.send(Reply{Type: "error", Message: msg})
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("session"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	// watches outlive the request context only until the client goes away
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	out := &conn{ws: ws, metrics: h.metrics}
	if err := out.send(Reply{Type: "connected", Session: s.ID()}); err != nil {
		return
	}

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WebSocket read error", zap.String("session", s.ID()), zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "watch":
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.watch(ctx, s, out, msg.Progress)
			}()
		case "cancel":
			h.cancel(ctx, s, out, msg.Progress)
		case "events":
			if h.bus == nil {
				out.sendError("events are not available")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.events(ctx, s, out)
			}()
		case "ping":
			out.send(Reply{Type: "pong"})
		default:
			out.sendError("unknown message type")
		}
	}
}

func progressProxy(s *session.Session, objectID string) *vbox.Progress {
	return vbox.NewProgress(s, remote.NewRef(objectID, remote.KindProgress, s.ID()))
}

// watch streams the updates of one progress object until it ends.
func (h *Handler) watch(ctx context.Context, s *session.Session, out *conn, objectID string) {
	if objectID == "" {
		out.sendError("watch needs a progress id")
		return
	}
	p := progressProxy(s, objectID)
	updates := p.Watch(ctx,
		progress.WithInterval(h.interval),
		progress.WithLogger(h.logger),
		progress.WithMetrics(h.metrics))
	for u := range updates {
		if err := out.send(Reply{Type: "progress", Update: &u}); err != nil {
			h.logger.Debug("Dropping progress watch", zap.String("progress", objectID), zap.Error(err))
			// drain so the poller can exit
			for range updates {
			}
			return
		}
	}
}

func (h *Handler) cancel(ctx context.Context, s *session.Session, out *conn, objectID string) {
	if objectID == "" {
		out.sendError("cancel needs a progress id")
		return
	}
	if err := progressProxy(s, objectID).Cancel(ctx); err != nil {
		out.sendError(err.Error())
	}
}

// events forwards machine state changes published for this session.
func (h *Handler) events(ctx context.Context, s *session.Session, out *conn) {
	sub, err := h.bus.Subscribe(ctx, events.MachineStateChanged)
	if err != nil {
		out.sendError(err.Error())
		return
	}
	defer sub.Close()
	if err := out.send(Reply{Type: "subscribed", Message: events.MachineStateChanged}); err != nil {
		return
	}

	listener := events.NewListener(s, h.logger, h.metrics)
	err = listener.Run(ctx, sub, func(_ context.Context, ref remote.Ref, ev events.Event) {
		if err := out.send(Reply{Type: "event", Event: &ev, Object: &ref}); err != nil {
			h.logger.Debug("Event not delivered", zap.String("event", ev.ID), zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("Event stream ended", zap.String("session", s.ID()), zap.Error(err))
	}
}
