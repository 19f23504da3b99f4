// Package snapshot freezes a remote reference together with a subset of its
// cached properties into a portable container, and thaws it back into a
// live reference on the other side of a process or component boundary.
package snapshot

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
)

// Container is the portable form of a reference and its cached state.
type Container struct {
	ObjectID      string              `json:"objectId"`
	InterfaceKind remote.Kind         `json:"interfaceKind"`
	SessionID     string              `json:"sessionId"`
	Properties    map[string]Property `json:"properties,omitempty"`
}

// Names lists the property names, sorted.
func (c Container) Names() []string {
	names := make([]string, 0, len(c.Properties))
	for n := range c.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Session is what a thaw needs to know about the receiving session.
type Session interface {
	ID() string
	// Accepts reports whether references minted under sessionID are valid
	// in this session.
	Accepts(sessionID string) bool
}

// Marshaler freezes and thaws references against one session's cache.
type Marshaler struct {
	table   *descriptor.Table
	cache   *cache.Cache
	metrics *monitoring.Metrics
}

// NewMarshaler creates a marshaler over a session's cache.
func NewMarshaler(table *descriptor.Table, c *cache.Cache, metrics *monitoring.Metrics) *Marshaler {
	return &Marshaler{table: table, cache: c, metrics: metrics}
}

// Freeze captures ref and the named cached properties. Names that are not
// cached are skipped; no names means every cached property.
func (m *Marshaler) Freeze(ref remote.Ref, names ...string) (Container, error) {
	if ref.IsNull() {
		return Container{}, fmt.Errorf("%w: cannot freeze a null %s reference", remote.ErrEncode, ref.Kind)
	}
	c := Container{
		ObjectID:      ref.ObjectID,
		InterfaceKind: ref.Kind,
		SessionID:     ref.SessionID,
		Properties:    make(map[string]Property),
	}
	for name, v := range m.cache.Snapshot(ref.ObjectID, names...) {
		method, err := m.table.Lookup(ref.Kind, name)
		if err != nil || !method.Cacheable {
			continue
		}
		p, err := EncodeProperty(method.Result, v)
		if err != nil {
			return Container{}, fmt.Errorf("%w: %s: %v", remote.ErrEncode, method, err)
		}
		c.Properties[name] = p
	}
	return c, nil
}

type thawOptions struct {
	replace bool
}

// ThawOption configures Thaw.
type ThawOption func(*thawOptions)

// WithReplace drops the object's cached properties before restoring, for
// snapshots that supersede everything known about the object.
func WithReplace() ThawOption {
	return func(o *thawOptions) { o.replace = true }
}

// Thaw rebuilds the reference inside s and restores its properties into the
// cache. Containers from sessions s does not accept fail with
// remote.ErrSessionExpired; properties of non-cacheable methods are dropped.
func (m *Marshaler) Thaw(c Container, s Session, opts ...ThawOption) (remote.Ref, error) {
	var o thawOptions
	for _, opt := range opts {
		opt(&o)
	}

	ref, values, err := m.decode(c, s)
	if err != nil {
		m.metrics.RecordThaw("rejected")
		return remote.Ref{}, err
	}
	if o.replace {
		m.cache.Invalidate(ref.ObjectID)
	}
	m.cache.Restore(ref.ObjectID, values)
	m.metrics.RecordThaw("ok")
	return ref, nil
}

func (m *Marshaler) decode(c Container, s Session) (remote.Ref, map[string]any, error) {
	if c.ObjectID == "" {
		return remote.Ref{}, nil, fmt.Errorf("%w: container has no objectId", remote.ErrDecode)
	}
	if !s.Accepts(c.SessionID) {
		return remote.Ref{}, nil, fmt.Errorf("%w: container belongs to session %q", remote.ErrSessionExpired, c.SessionID)
	}
	kind, err := remote.ParseKind(string(c.InterfaceKind))
	if err != nil {
		return remote.Ref{}, nil, fmt.Errorf("%w: %v", remote.ErrDecode, err)
	}

	ref := remote.NewRef(c.ObjectID, kind, s.ID())
	values := make(map[string]any, len(c.Properties))
	for name, p := range c.Properties {
		method, err := m.table.Lookup(kind, name)
		if err != nil || !method.Cacheable {
			continue
		}
		if p.Type != method.Result.Type && !(isText(p.Type) && isText(method.Result.Type)) {
			return remote.Ref{}, nil, fmt.Errorf("%w: %s is %s, snapshot holds %s", remote.ErrDecode, method, method.Result.Type, p.Type)
		}
		if p.Kind == "" {
			p.Kind = method.Result.Kind
		}
		v, err := p.Decode(s.ID())
		if err != nil {
			return remote.Ref{}, nil, fmt.Errorf("%w: %s: %v", remote.ErrDecode, method, err)
		}
		values[name] = v
	}
	return ref, values, nil
}

func isText(t remote.WireType) bool {
	return t == remote.TypeString || t == remote.TypeEnum
}
