package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
	"github.com/GriffinCanCode/vboxremote/internal/remote/dispatch"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// Manager logs sessions on and off one server.
type Manager struct {
	table     *descriptor.Table
	transport remote.Transport
	store     Store
	endpoint  string
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer

	// sessions maps session ids and their aliases to *Session
	sessions sync.Map
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore persists session records. The default keeps them in memory.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithEndpoint records the server address in session records.
func WithEndpoint(endpoint string) Option {
	return func(m *Manager) { m.endpoint = endpoint }
}

// WithTable replaces the embedded method table.
func WithTable(table *descriptor.Table) Option {
	return func(m *Manager) { m.table = table }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records session and dispatch metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer traces the calls of every session.
func WithTracer(tracer *tracing.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a manager whose sessions talk over transport.
func NewManager(transport remote.Transport, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.table == nil {
		m.table = descriptor.MustLoad()
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	return m
}

// Logon authenticates and opens a session with its own cache.
func (m *Manager) Logon(ctx context.Context, user, password string) (*Session, error) {
	return m.logon(ctx, user, password, nil)
}

func (m *Manager) logon(ctx context.Context, user, password string, aliases []string) (*Session, error) {
	method, err := m.table.Lookup(remote.KindWebsessionManager, "logon")
	if err != nil {
		return nil, err
	}
	args, err := method.EncodeArgs([]any{user, password})
	if err != nil {
		return nil, err
	}

	// No dispatcher exists before logon; the call goes straight out.
	resp, err := m.transport.Send(ctx, remote.Call{
		ObjectID: remote.WebsessionManagerID,
		Method:   method.WireName,
		Args:     args,
	})
	if err != nil {
		return nil, fmt.Errorf("logon as %q: %w", user, err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("logon as %q: %w: server returned no session id", user, remote.ErrDecode)
	}
	v, err := method.DecodeResult(remote.Ref{SessionID: resp.SessionID}, resp)
	if err != nil {
		return nil, fmt.Errorf("logon as %q: %w", user, err)
	}
	root, _ := v.(remote.Ref)
	if root.IsNull() {
		return nil, fmt.Errorf("logon as %q: %w: server returned no IVirtualBox reference", user, remote.ErrDecode)
	}

	s := m.open(resp.SessionID, user, root, aliases)
	if err := m.store.Save(ctx, s.record(m.endpoint)); err != nil {
		m.logger.Warn("Failed to persist session", zap.String("session", s.id), zap.Error(err))
	}
	if len(aliases) > 0 {
		m.metrics.SessionOpened("reattach")
		m.logger.Info("Reattached session", zap.String("session", s.id), zap.Strings("aliases", aliases))
	} else {
		m.metrics.SessionOpened("logon")
		m.logger.Info("Logged on", zap.String("session", s.id), zap.String("user", user))
	}
	return s, nil
}

func (m *Manager) open(id, user string, root remote.Ref, aliases []string) *Session {
	c := cache.New()
	s := &Session{
		id:      id,
		user:    user,
		root:    root,
		created: time.Now(),
		cache:   c,
		dispatcher: dispatch.New(id, m.table, m.transport, c,
			dispatch.WithLogger(m.logger.Named("dispatch")),
			dispatch.WithMetrics(m.metrics),
			dispatch.WithTracer(m.tracer)),
		marshaler: snapshot.NewMarshaler(m.table, c, m.metrics),
		aliases:   make(map[string]struct{}),
	}
	s.alias(aliases...)
	m.sessions.Store(id, s)
	for _, a := range s.Aliases() {
		m.sessions.Store(a, s)
	}
	return s
}

// Get returns the open session answering for id, which may be an alias.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: no open session %q", remote.ErrSessionExpired, id)
	}
	return v.(*Session), nil
}

// Resolve returns the session a reference belongs to.
func (m *Manager) Resolve(ref remote.Ref) (*Session, error) {
	return m.Get(ref.SessionID)
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	seen := make(map[*Session]struct{})
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].created.Before(out[j].created) })
	return out
}

// Logoff ends the session on the server and discards its cache. The
// session is closed locally even when the server call fails.
func (m *Manager) Logoff(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	manager := remote.NewRef(remote.WebsessionManagerID, remote.KindWebsessionManager, s.id)
	_, callErr := s.dispatcher.Invoke(ctx, manager, "logoff", s.root)

	m.forget(s)
	if err := m.store.Delete(context.WithoutCancel(ctx), s.id); err != nil {
		m.logger.Warn("Failed to delete session record", zap.String("session", s.id), zap.Error(err))
	}
	m.metrics.SessionClosed()
	m.logger.Info("Logged off", zap.String("session", s.id))

	// the server already forgot the session
	if remote.IsFault(callErr, remote.FaultInvalidSession) {
		return nil
	}
	if callErr != nil {
		return fmt.Errorf("logoff %s: %w", s.id, callErr)
	}
	return nil
}

// Reattach logs on again as the user of a persisted session. The new
// session accepts references minted under oldID and its earlier aliases.
func (m *Manager) Reattach(ctx context.Context, oldID, password string) (*Session, error) {
	rec, err := m.store.Load(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("reattach %s: %w", oldID, err)
	}
	s, err := m.logon(ctx, rec.User, password, append([]string{rec.ID}, rec.Aliases...))
	if err != nil {
		return nil, fmt.Errorf("reattach %s: %w", oldID, err)
	}
	if err := m.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("Failed to delete session record", zap.String("session", rec.ID), zap.Error(err))
	}
	return s, nil
}

// Resume takes over a session another process logged on and left open,
// using its persisted record. No logon happens; the server must still know
// the session.
func (m *Manager) Resume(ctx context.Context, id string) (*Session, error) {
	if s, err := m.Get(id); err == nil {
		return s, nil
	}
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}
	root := remote.NewRef(rec.Root, remote.KindVirtualBox, rec.ID)
	s := m.open(rec.ID, rec.User, root, rec.Aliases)
	if _, err := s.Invoke(ctx, root, "getAPIVersion"); err != nil {
		m.forget(s)
		return nil, fmt.Errorf("resume %s: %w", id, err)
	}
	m.metrics.SessionOpened("resume")
	m.logger.Info("Resumed session", zap.String("session", s.id))
	return s, nil
}

func (m *Manager) forget(s *Session) {
	for _, key := range append(s.Aliases(), s.id) {
		m.sessions.Delete(key)
	}
	s.close()
}

// Close logs off every open session.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.List() {
		if err := m.Logoff(ctx, s.id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
