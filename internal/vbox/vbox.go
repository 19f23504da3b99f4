// Package vbox provides typed proxies over the remote object model. Each
// proxy is a reference plus the invoker that serves it; getters of
// cacheable properties are answered from the session's cache after the
// first read.
package vbox

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Invoker executes remote calls; *dispatch.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, ref remote.Ref, method string, args ...any) (any, error)
	ClearCacheNamed(ref remote.Ref, names ...string)
}

type proxy struct {
	inv Invoker
	ref remote.Ref
}

// Ref returns the underlying reference.
func (p proxy) Ref() remote.Ref { return p.ref }

// Refresh drops the named cached properties, or all of them.
func (p proxy) Refresh(names ...string) {
	p.inv.ClearCacheNamed(p.ref, names...)
}

func (p proxy) String() string { return p.ref.String() }

func get[T any](ctx context.Context, p proxy, method string, args ...any) (T, error) {
	var zero T
	v, err := p.inv.Invoke(ctx, p.ref, method, args...)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s returned %T", remote.ErrDecode, p.ref.Kind, method, v)
	}
	return t, nil
}

func call(ctx context.Context, p proxy, method string, args ...any) error {
	_, err := p.inv.Invoke(ctx, p.ref, method, args...)
	return err
}

// getRef reads a reference result and wraps it; null references give nil.
func getRef[T any](ctx context.Context, p proxy, method string, wrap func(proxy) *T, args ...any) (*T, error) {
	ref, err := get[remote.Ref](ctx, p, method, args...)
	if err != nil || ref.IsNull() {
		return nil, err
	}
	return wrap(proxy{inv: p.inv, ref: ref}), nil
}

func getRefs[T any](ctx context.Context, p proxy, method string, wrap func(proxy) *T, args ...any) ([]*T, error) {
	refs, err := get[[]remote.Ref](ctx, p, method, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(refs))
	for i, ref := range refs {
		out[i] = wrap(proxy{inv: p.inv, ref: ref})
	}
	return out, nil
}

func refsOf[T interface{ Ref() remote.Ref }](items []T) []remote.Ref {
	out := make([]remote.Ref, len(items))
	for i, it := range items {
		out[i] = it.Ref()
	}
	return out
}

// VirtualBox is the root object of a session.
type VirtualBox struct{ proxy }

// NewVirtualBox wraps the root reference obtained at logon.
func NewVirtualBox(inv Invoker, root remote.Ref) *VirtualBox {
	return &VirtualBox{proxy{inv: inv, ref: root}}
}

func (v *VirtualBox) Version(ctx context.Context) (string, error) {
	return get[string](ctx, v.proxy, "getVersion")
}

func (v *VirtualBox) APIVersion(ctx context.Context) (string, error) {
	return get[string](ctx, v.proxy, "getAPIVersion")
}

func (v *VirtualBox) HomeFolder(ctx context.Context) (string, error) {
	return get[string](ctx, v.proxy, "getHomeFolder")
}

// Machines lists the registered machines.
func (v *VirtualBox) Machines(ctx context.Context) ([]*Machine, error) {
	return getRefs(ctx, v.proxy, "getMachines", wrapMachine)
}

// FindMachine looks a registered machine up by name or uuid.
func (v *VirtualBox) FindMachine(ctx context.Context, nameOrID string) (*Machine, error) {
	return getRef(ctx, v.proxy, "findMachine", wrapMachine, nameOrID)
}

// CreateMachine creates an unregistered machine.
func (v *VirtualBox) CreateMachine(ctx context.Context, name, osTypeID string) (*Machine, error) {
	return getRef(ctx, v.proxy, "createMachine", wrapMachine, name, osTypeID)
}

func (v *VirtualBox) RegisterMachine(ctx context.Context, m *Machine) error {
	return call(ctx, v.proxy, "registerMachine", m.ref)
}

func (v *VirtualBox) PerformanceCollector(ctx context.Context) (*PerformanceCollector, error) {
	return getRef(ctx, v.proxy, "getPerformanceCollector", wrapCollector)
}

// SessionObject returns the ISession of the websession, used to lock and
// launch machines.
func (v *VirtualBox) SessionObject(ctx context.Context) (*Session, error) {
	manager := proxy{
		inv: v.inv,
		ref: remote.NewRef(remote.WebsessionManagerID, remote.KindWebsessionManager, v.ref.SessionID),
	}
	return getRef(ctx, manager, "getSessionObject", wrapSession, v.ref)
}
