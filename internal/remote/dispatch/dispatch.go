// Package dispatch turns typed method calls on remote references into
// transport calls, serving cacheable reads from the session's property cache.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
)

// Dispatcher executes calls for one session. It is safe for concurrent use.
type Dispatcher struct {
	session   string
	table     *descriptor.Table
	transport remote.Transport
	cache     *cache.Cache

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight

	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer opens a span for every remote call.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New creates a dispatcher bound to sessionID.
func New(sessionID string, table *descriptor.Table, transport remote.Transport, c *cache.Cache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:   sessionID,
		table:     table,
		transport: transport,
		cache:     c,
		flights:   make(map[string]*flight),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Session returns the id of the session the dispatcher serves.
func (d *Dispatcher) Session() string { return d.session }

// Cache returns the session's property cache.
func (d *Dispatcher) Cache() *cache.Cache { return d.cache }

// Table returns the method descriptor table.
func (d *Dispatcher) Table() *descriptor.Table { return d.table }

// Invoke calls method on ref. Cacheable reads are served from the cache when
// present; concurrent misses of the same property share one remote call.
func (d *Dispatcher) Invoke(ctx context.Context, ref remote.Ref, method string, args ...any) (any, error) {
	m, err := d.table.Lookup(ref.Kind, method)
	if err != nil {
		return nil, err
	}
	if ref.SessionID != d.session {
		return nil, remote.Faultf(remote.FaultInvalidSession,
			"%s belongs to session %q, not %q", ref, ref.SessionID, d.session)
	}
	if ref.IsNull() {
		return nil, remote.Faultf(remote.FaultInvalidArgument, "%s called on a null reference", m)
	}
	if err := d.checkArgs(m, args); err != nil {
		return nil, err
	}
	encoded, err := m.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, remote.Cancelled(err)
	}

	if m.Cacheable {
		if v, ok := d.cache.Get(ref.ObjectID, m.Name); ok {
			d.metrics.RecordCacheHit(string(ref.Kind), m.Name)
			return remote.CloneValue(v), nil
		}
		d.metrics.RecordCacheMiss(string(ref.Kind), m.Name)
		return d.fetch(ctx, ref, m)
	}

	resp, err := d.send(ctx, ref, m, encoded)
	if err != nil {
		return nil, err
	}
	v, err := m.DecodeResult(ref, resp)
	if err != nil {
		return nil, err
	}
	if m.Mutating() {
		d.ClearCacheNamed(ref, m.Affects...)
	}
	return v, nil
}

// checkArgs rejects reference arguments minted in another session. Null
// references carry no object and pass.
func (d *Dispatcher) checkArgs(m *descriptor.Method, args []any) error {
	check := func(r remote.Ref) error {
		if r.IsNull() || r.SessionID == d.session {
			return nil
		}
		return remote.Faultf(remote.FaultInvalidSession,
			"%s argument %s belongs to session %q, not %q", m, r, r.SessionID, d.session)
	}
	for _, a := range args {
		switch t := a.(type) {
		case remote.Ref:
			if err := check(t); err != nil {
				return err
			}
		case []remote.Ref:
			for _, r := range t {
				if err := check(r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// flight tracks the callers waiting on one shared read. The read runs on
// the flight's context, detached from any single caller, and is cancelled
// once every waiter has given up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (d *Dispatcher) join(ctx context.Context, key string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		d.flights[key] = f
	}
	f.waiters++
	return f
}

func (d *Dispatcher) leave(key string, f *flight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if d.flights[key] == f {
		delete(d.flights, key)
	}
}

// fetch reads a cacheable property, sharing the remote call with concurrent
// readers of the same key.
func (d *Dispatcher) fetch(ctx context.Context, ref remote.Ref, m *descriptor.Method) (any, error) {
	key := flightKey(ref.ObjectID, m.Name)
	for attempt := 0; ; attempt++ {
		f := d.join(ctx, key)
		ch := d.group.DoChan(key, func() (any, error) {
			return d.read(f.ctx, ref, m)
		})

		select {
		case <-ctx.Done():
			d.leave(key, f)
			return nil, remote.Cancelled(ctx.Err())
		case res := <-ch:
			d.leave(key, f)
			if res.Shared {
				d.metrics.RecordCoalesced(string(ref.Kind), m.Name)
			}
			// joined a read abandoned by all of its other waiters
			if res.Err != nil && errors.Is(res.Err, remote.ErrCancelled) && ctx.Err() == nil && attempt == 0 {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return remote.CloneValue(res.Val), nil
		}
	}
}

func (d *Dispatcher) read(ctx context.Context, ref remote.Ref, m *descriptor.Method) (any, error) {
	gen := d.cache.Generation(ref.ObjectID, m.Name)
	resp, err := d.send(ctx, ref, m, nil)
	if err != nil {
		return nil, err
	}
	v, err := m.DecodeResult(ref, resp)
	if err != nil {
		return nil, err
	}
	if !d.cache.PutIfGeneration(ref.ObjectID, m.Name, v, gen) {
		d.metrics.RecordStaleDiscard(string(ref.Kind), m.Name)
		d.logger.Debug("invalidated while in flight, not caching",
			zap.Stringer("ref", ref), zap.String("method", m.Name))
	}
	return v, nil
}

func (d *Dispatcher) send(ctx context.Context, ref remote.Ref, m *descriptor.Method, args []remote.Arg) (remote.Response, error) {
	span, ctx := d.tracer.StartSpan(ctx, m.WireName)
	span.SetTag("object", ref.ObjectID)
	defer d.tracer.Submit(span)

	timer := monitoring.NewTimer(d.metrics, string(ref.Kind), m.Name)
	resp, err := d.transport.Send(ctx, remote.Call{
		SessionID:  ref.SessionID,
		ObjectID:   ref.ObjectID,
		Method:     m.WireName,
		Args:       args,
		Idempotent: !m.Mutating(),
	})
	if err == nil {
		elapsed := timer.Stop("ok")
		d.logger.Debug("remote call",
			zap.Stringer("ref", ref), zap.String("method", m.WireName), zap.Duration("elapsed", elapsed))
		return resp, nil
	}

	span.SetError(err)
	var fault *remote.RemoteFault
	switch {
	case errors.As(err, &fault):
		timer.Stop("fault")
		d.metrics.RecordTransportError(string(ref.Kind), m.Name, string(fault.Code))
		d.logger.Warn("remote fault",
			zap.Stringer("ref", ref), zap.String("method", m.WireName),
			zap.String("code", string(fault.Code)), zap.String("message", fault.Message))
		return remote.Response{}, err
	case errors.Is(err, remote.ErrCancelled):
		timer.Stop("cancelled")
		return remote.Response{}, err
	case ctx.Err() != nil:
		timer.Stop("cancelled")
		return remote.Response{}, remote.Cancelled(ctx.Err())
	}

	timer.Stop("error")
	d.metrics.RecordTransportError(string(ref.Kind), m.Name, "transport")
	d.logger.Error("transport failure",
		zap.Stringer("ref", ref), zap.String("method", m.WireName), zap.Error(err))
	if !errors.Is(err, remote.ErrTransport) {
		err = &remote.TransportError{Op: m.WireName, Err: err}
	}
	return remote.Response{}, err
}

// ClearCacheNamed invalidates the named cacheable properties of ref, or all
// of them when no names are given. The next read of an invalidated property
// goes remote even if a read of it is in flight right now.
func (d *Dispatcher) ClearCacheNamed(ref remote.Ref, names ...string) {
	d.cache.Invalidate(ref.ObjectID, names...)
	if len(names) == 0 {
		d.metrics.RecordInvalidation(string(ref.Kind), "object")
		names = d.table.CacheableNames(ref.Kind)
	} else {
		d.metrics.RecordInvalidation(string(ref.Kind), "named")
	}
	for _, name := range names {
		d.group.Forget(flightKey(ref.ObjectID, name))
	}
}

func flightKey(objectID, method string) string {
	return fmt.Sprintf("%s\x00%s", objectID, method)
}
