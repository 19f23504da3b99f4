// Package sandbox is an in-memory virtualization server. It implements
// remote.Backend over the same method table the client uses, so it can be
// served by either transport or called in-process.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/vboxremote/internal/events"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
	"github.com/GriffinCanCode/vboxremote/internal/shared/id"
)

const (
	// Version is what IVirtualBox reports.
	Version    = "7.0.14_sandbox"
	apiVersion = "7_0"
	homeFolder = "/var/lib/vbox"

	defaultOperationDuration = 2 * time.Second
	defaultGuestDiskSize     = 64 << 20
)

// Server holds the object graph. Calls run one at a time under mu; the only
// call that blocks, IProgress.waitForCompletion, waits after mu is released.
type Server struct {
	mu       sync.Mutex
	table    *descriptor.Table
	handlers map[string]handler
	clock    clock.Clock
	logger   *zap.Logger
	publish  events.Publisher

	users     map[string][]byte // bcrypt hashes
	sessions  map[string]*websession
	objects   map[string]object
	root      *virtualBox
	machines  []*machine
	hostFiles map[string]int64

	opDuration time.Duration
	diskSize   int64
	guestSeq   uint32
	pending    []events.Event
}

type websession struct {
	id      string
	user    string
	session string // ISession object, created on first request
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the wall clock. Progress objects advance with it.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPublisher receives machine state change events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publish = p }
}

// WithUser adds a login. A server without users accepts any credentials.
func WithUser(name, password string) Option {
	return func(s *Server) {
		// Passwords bcrypt rejects (over 72 bytes) leave a hash nothing matches.
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		s.users[name] = hash
	}
}

// WithOperationDuration sets how long progress operations take.
func WithOperationDuration(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.opDuration = d
		}
	}
}

// WithGuestDiskSize sets the capacity of each guest file system.
func WithGuestDiskSize(bytes int64) Option {
	return func(s *Server) { s.diskSize = bytes }
}

// New creates a server seeded with a few machines and host files.
func New(opts ...Option) *Server {
	s := &Server{
		table:      descriptor.MustLoad(),
		handlers:   handlerTable(),
		clock:      clock.WallClock,
		logger:     zap.NewNop(),
		users:      make(map[string][]byte),
		sessions:   make(map[string]*websession),
		objects:    make(map[string]object),
		hostFiles:  make(map[string]int64),
		opDuration: defaultOperationDuration,
		diskSize:   defaultGuestDiskSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seed()
	return s
}

// call is what a handler sees of one request.
type call struct {
	ws     *websession
	obj    object
	method *descriptor.Method
	args   []any

	// set by logon
	newSession string
}

func (c *call) str(i int) string    { v, _ := c.args[i].(string); return v }
func (c *call) u32(i int) uint32    { v, _ := c.args[i].(uint32); return v }
func (c *call) i32(i int) int32     { v, _ := c.args[i].(int32); return v }
func (c *call) flag(i int) bool     { v, _ := c.args[i].(bool); return v }
func (c *call) list(i int) []string { v, _ := c.args[i].([]string); return v }

// handler executes one method under the server lock.
type handler func(s *Server, c *call) (any, error)

// wait is a void result that blocks after the server lock is released.
type wait func(ctx context.Context) error

// Handle implements remote.Backend.
func (s *Server) Handle(ctx context.Context, rc remote.Call) (remote.Response, error) {
	if err := ctx.Err(); err != nil {
		return remote.Response{}, remote.Cancelled(err)
	}
	m, err := s.table.ByWireName(rc.Method)
	if err != nil {
		return remote.Response{}, remote.Faultf(remote.FaultNotImplemented, "%v", err)
	}
	h, ok := s.handlers[m.WireName]
	if !ok {
		return remote.Response{}, remote.Faultf(remote.FaultNotImplemented, "%s is not implemented", m)
	}
	args, err := m.DecodeArgs(rc.Args)
	if err != nil {
		return remote.Response{}, remote.Faultf(remote.FaultInvalidArgument, "%v", err)
	}

	c := &call{method: m, args: args}
	s.mu.Lock()
	result, err := s.dispatch(c, rc, h)
	pending := s.takePending()
	s.mu.Unlock()
	s.flush(ctx, pending)

	if err != nil {
		s.logger.Debug("Call faulted", zap.String("method", rc.Method), zap.Error(err))
		return remote.Response{}, err
	}
	if w, ok := result.(wait); ok {
		if err := w(ctx); err != nil {
			return remote.Response{}, err
		}
		result = nil
	}

	wsID := c.newSession
	if wsID == "" {
		wsID = c.ws.id
	}
	resp, err := m.EncodeResult(exportResult(m, result, wsID))
	if err != nil {
		return remote.Response{}, remote.Faultf(remote.FaultInternal, "%v", err)
	}
	resp.SessionID = rc.SessionID
	if c.newSession != "" {
		resp.SessionID = c.newSession
	}
	return resp, nil
}

func (s *Server) dispatch(c *call, rc remote.Call, h handler) (any, error) {
	if c.method.Interface == remote.KindWebsessionManager && c.method.Name == "logon" {
		return h(s, c)
	}
	ws, ok := s.sessions[rc.SessionID]
	if !ok {
		return nil, remote.Faultf(remote.FaultInvalidSession, "session %q is not logged on", rc.SessionID)
	}
	c.ws = ws
	if err := s.importArgs(c); err != nil {
		return nil, err
	}
	if c.method.Interface == remote.KindWebsessionManager {
		return h(s, c)
	}

	objectID, err := s.importID(ws, rc.ObjectID)
	if err != nil {
		return nil, err
	}
	obj, ok := s.objects[objectID]
	if !ok {
		return nil, remote.Faultf(remote.FaultObjectNotFound, "no object %q", rc.ObjectID)
	}
	if obj.kind() != c.method.Interface {
		return nil, remote.Faultf(remote.FaultInvalidArgument, "%s called on %s %q", c.method, obj.kind(), rc.ObjectID)
	}
	c.obj = obj
	return h(s, c)
}

// Object references handed out on the wire are managed per websession,
// "<websession>-<object>", and only resolve in the websession they were
// handed to. Handlers only ever see the bare object ids.
func exportID(wsID, objectID string) string {
	if objectID == "" {
		return ""
	}
	return wsID + "-" + objectID
}

func (s *Server) importID(ws *websession, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if objectID, ok := strings.CutPrefix(ref, ws.id+"-"); ok {
		return objectID, nil
	}
	for other := range s.sessions {
		if strings.HasPrefix(ref, other+"-") {
			return "", remote.Faultf(remote.FaultInvalidSession, "%q belongs to another session", ref)
		}
	}
	return "", remote.Faultf(remote.FaultObjectNotFound, "no object %q", ref)
}

// importArgs resolves the reference arguments of c in its websession.
func (s *Server) importArgs(c *call) error {
	for i, spec := range c.method.Args {
		switch spec.Type {
		case remote.TypeRef:
			objectID, err := s.importID(c.ws, c.str(i))
			if err != nil {
				return err
			}
			c.args[i] = objectID
		case remote.TypeRefList:
			refs := c.list(i)
			ids := make([]string, len(refs))
			for j, ref := range refs {
				objectID, err := s.importID(c.ws, ref)
				if err != nil {
					return err
				}
				ids[j] = objectID
			}
			c.args[i] = ids
		}
	}
	return nil
}

// exportResult turns the object ids a handler returned into references of
// websession wsID.
func exportResult(m *descriptor.Method, v any, wsID string) any {
	switch m.Result.Shape {
	case descriptor.ShapeRef:
		switch t := v.(type) {
		case string:
			return exportID(wsID, t)
		case remote.Ref:
			return exportID(wsID, t.ObjectID)
		}
	case descriptor.ShapeRefList:
		var ids []string
		switch t := v.(type) {
		case []string:
			ids = t
		case []remote.Ref:
			ids = make([]string, len(t))
			for i, r := range t {
				ids[i] = r.ObjectID
			}
		default:
			return v
		}
		out := make([]string, len(ids))
		for i, objectID := range ids {
			out[i] = exportID(wsID, objectID)
		}
		return out
	}
	return v
}

func (s *Server) newID() string {
	return id.NewObjectID().String()
}

func (s *Server) add(obj object) {
	s.objects[obj.objectID()] = obj
}

// lookup resolves an object id argument as T.
func lookup[T object](s *Server, objectID string) (T, error) {
	var zero T
	obj, ok := s.objects[objectID]
	if !ok {
		return zero, remote.Faultf(remote.FaultObjectNotFound, "no object %q", objectID)
	}
	t, ok := obj.(T)
	if !ok {
		return zero, remote.Faultf(remote.FaultInvalidArgument, "object %q is a %s", objectID, obj.kind())
	}
	return t, nil
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

func (s *Server) takePending() []events.Event {
	p := s.pending
	s.pending = nil
	return p
}

func (s *Server) flush(ctx context.Context, pending []events.Event) {
	if s.publish == nil || len(pending) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range pending {
		if err := s.publish.Publish(ctx, ev); err != nil {
			s.logger.Warn("Cannot publish event", zap.String("event", ev.Name), zap.Error(err))
		}
	}
}

// afterFunc runs fn under the server lock after d and publishes the
// events it queued.
func (s *Server) afterFunc(d time.Duration, fn func()) clock.Timer {
	return s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		fn()
		pending := s.takePending()
		s.mu.Unlock()
		s.flush(context.Background(), pending)
	})
}

// Sessions reports the number of logged on websessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("sandbox(%d machines, %d sessions)", len(s.machines), len(s.sessions))
}
