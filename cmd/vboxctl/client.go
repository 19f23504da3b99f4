package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/domain/session"
	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/logging"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/redisconn"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/server"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
	"github.com/GriffinCanCode/vboxremote/internal/vbox"
)

// client is one command's connection to the server.
type client struct {
	logger    *logging.Logger
	conn      io.Closer
	redis     redis.UniversalClient
	sessions  *session.Manager
	bus       events.Bus
	snapshots *snapshot.RedisStore
	// keep leaves sessions logged on, for snapshots thawed by a later run
	keep bool
}

func newLogger() (*logging.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
}

func connect(ctx context.Context) (*client, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	tr, conn, err := server.Dial(cfg.Remote, logger.Component("transport"))
	if err != nil {
		return nil, err
	}
	c := &client{logger: logger, conn: conn}

	store := session.Store(session.NewMemoryStore())
	if cfg.Redis.Enabled {
		rc, err := redisconn.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			c.release()
			return nil, err
		}
		c.redis = rc
		store = session.NewRedisStore(rc, cfg.Redis.SessionTTL)
		c.bus = events.NewRedisBus(rc, logger.Component("events"), nil)
		if c.snapshots, err = snapshot.NewRedisStore(rc, cfg.Redis.SnapshotTTL); err != nil {
			c.release()
			return nil, err
		}
	}

	c.sessions = session.NewManager(server.Guard(tr, cfg, logger.Component("transport")),
		session.WithStore(store),
		session.WithEndpoint(cfg.Remote.Endpoint),
		session.WithLogger(logger.Component("session")))
	return c, nil
}

func (c *client) logon(ctx context.Context) (*session.Session, error) {
	return c.sessions.Logon(ctx, cfg.Remote.User, cfg.Remote.Password)
}

// close logs off, unless asked to keep the sessions, and releases the
// connections.
func (c *client) close() {
	if !c.keep {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sessions.Close(ctx); err != nil {
			c.logger.Warn("Logoff failed", zap.Error(err))
		}
	}
	c.release()
}

func (c *client) release() {
	if c.snapshots != nil {
		c.snapshots.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	_ = c.logger.Sync()
}

// env is what a session command works with.
type env struct {
	ctx     context.Context
	client  *client
	session *session.Session
	vb      *vbox.VirtualBox
}

func (e *env) machine(nameOrID string) (*vbox.Machine, error) {
	m, err := e.vb.FindMachine(e.ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("find machine %q: %w", nameOrID, err)
	}
	return m, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withSession connects, logs on and runs fn, logging off afterwards.
func withSession(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		s, err := c.logon(ctx)
		if err != nil {
			return err
		}
		err = fn(cmd, args, &env{ctx: ctx, client: c, session: s, vb: vbox.NewVirtualBox(s, s.Root())})
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
}
