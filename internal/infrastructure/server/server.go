// Package server assembles the bridge: the guarded transport to the
// virtualization server, the session manager, the event bus, the snapshot
// store and the HTTP and WebSocket API in front of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/vboxremote/internal/api/http"
	"github.com/GriffinCanCode/vboxremote/internal/api/middleware"
	"github.com/GriffinCanCode/vboxremote/internal/config"
	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/logging"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/redisconn"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/ws"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	config    *config.Config
	router    *gin.Engine
	http      *http.Server
	sessions  *session.Manager
	transport *resilience.Transport
	conn      io.Closer
	bus       events.Bus
	snapshots *snapshot.RedisStore
	redis     redis.UniversalClient
	ownRedis  bool
	registry  *prometheus.Registry
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	logger    *logging.Logger
}

type options struct {
	transport remote.Transport
	redis     redis.UniversalClient
	logger    *logging.Logger
}

// Option configures NewServer.
type Option func(*options)

// WithTransport uses t instead of dialing the configured endpoint.
func WithTransport(t remote.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRedis uses an existing client when Redis is enabled. The caller
// keeps ownership of it.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, err
		}
	}
	logger.Info("Initializing bridge",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("endpoint", cfg.Remote.Endpoint),
		zap.String("transport", cfg.Remote.Transport),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	// Metrics first; everything below reports into them
	registry := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(registry)
	tracer := tracing.New("bridge", logger.Logger)

	s := &Server{
		config:   cfg,
		registry: registry,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}

	next := o.transport
	if next == nil {
		t, conn, err := Dial(cfg.Remote, logger.Component("transport"))
		if err != nil {
			s.release()
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.Remote.Endpoint, err)
		}
		next, s.conn = t, conn
	}
	s.transport = Guard(next, cfg, logger.Component("transport"))

	store := session.Store(session.NewMemoryStore())
	if cfg.Redis.Enabled {
		if err := s.connectRedis(ctx, o.redis); err != nil {
			s.release()
			return nil, err
		}
		store = session.NewRedisStore(s.redis, cfg.Redis.SessionTTL)
		snapshots, err := snapshot.NewRedisStore(s.redis, cfg.Redis.SnapshotTTL)
		if err != nil {
			s.release()
			return nil, err
		}
		s.snapshots = snapshots
		s.bus = events.NewRedisBus(s.redis, logger.Component("events"), metrics)
	} else {
		s.bus = events.NewLocalBus(logger.Component("events"), metrics)
	}

	s.sessions = session.NewManager(s.transport,
		session.WithStore(store),
		session.WithEndpoint(cfg.Remote.Endpoint),
		session.WithLogger(logger.Component("session")),
		session.WithMetrics(metrics),
		session.WithTracer(tracer),
	)

	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Bridge initialized successfully")
	return s, nil
}

func (s *Server) connectRedis(ctx context.Context, client redis.UniversalClient) error {
	if client != nil {
		s.redis = client
		return nil
	}
	client, err := redisconn.Connect(ctx, s.config.Redis.Addr)
	if err != nil {
		return err
	}
	s.redis, s.ownRedis = client, true
	s.logger.Info("Connected to Redis", zap.String("addr", s.config.Redis.Addr))
	return nil
}

func (s *Server) routes() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.Logger(s.logger.Component("http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		limits.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlerOpts := []apihttp.Option{
		apihttp.WithBreaker(s.transport.Breaker()),
		apihttp.WithLogger(s.logger.Component("api")),
	}
	if s.snapshots != nil {
		handlerOpts = append(handlerOpts, apihttp.WithSnapshotStore(s.snapshots))
	}
	apihttp.NewHandlers(s.sessions, handlerOpts...).Register(router)

	feed := ws.NewHandler(s.sessions,
		ws.WithEvents(s.bus),
		ws.WithInterval(s.config.Progress.Interval),
		ws.WithLogger(s.logger.Component("ws")),
		ws.WithMetrics(s.metrics),
	)
	router.GET("/sessions/:session/feed", feed.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return router
}

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Events returns the bus machine events are delivered on.
func (s *Server) Events() events.Bus { return s.bus }

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, logs every session off and releases
// the transport, the bus and Redis.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down bridge...")
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.sessions.Close(ctx); err != nil {
		s.logger.Warn("Some sessions did not log off", zap.Error(err))
		errs = append(errs, err)
	}
	errs = append(errs, s.release())
	return errors.Join(errs...)
}

func (s *Server) release() error {
	var errs []error
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.snapshots != nil {
		s.snapshots.Close()
	}
	if s.ownRedis {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	s.tracer.Close()
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
