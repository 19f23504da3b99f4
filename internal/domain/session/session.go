package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/dispatch"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// Session is one logged on websession and the state scoped to it.
type Session struct {
	id      string
	user    string
	root    remote.Ref
	created time.Time

	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	marshaler  *snapshot.Marshaler

	mu      sync.RWMutex
	aliases map[string]struct{}
	closed  bool
}

// ID returns the server's session id.
func (s *Session) ID() string { return s.id }

// User returns the name the session logged on with.
func (s *Session) User() string { return s.user }

// Root returns the IVirtualBox reference obtained at logon.
func (s *Session) Root() remote.Ref { return s.root }

// CreatedAt returns the logon time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Cache returns the session's property cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Marshaler returns the session's snapshot marshaler.
func (s *Session) Marshaler() *snapshot.Marshaler { return s.marshaler }

// Accepts reports whether references minted under sessionID are valid here:
// the session is open and sessionID is its own id or one it reattached.
func (s *Session) Accepts(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if sessionID == s.id {
		return true
	}
	_, ok := s.aliases[sessionID]
	return ok
}

// Aliases lists the earlier session ids this session answers for, sorted.
func (s *Session) Aliases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.aliases))
	for a := range s.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Closed reports whether the session has logged off.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Invoke calls method on ref through the session's dispatcher.
func (s *Session) Invoke(ctx context.Context, ref remote.Ref, method string, args ...any) (any, error) {
	if s.Closed() {
		return nil, remote.Faultf(remote.FaultInvalidSession, "session %q is closed", s.id)
	}
	return s.dispatcher.Invoke(ctx, ref, method, args...)
}

// ClearCacheNamed drops cached properties of ref, all of them when no
// names are given.
func (s *Session) ClearCacheNamed(ref remote.Ref, names ...string) {
	s.dispatcher.ClearCacheNamed(ref, names...)
}

// Freeze captures ref and its cached properties.
func (s *Session) Freeze(ref remote.Ref, names ...string) (snapshot.Container, error) {
	return s.marshaler.Freeze(ref, names...)
}

// Thaw reconstructs a frozen reference in this session.
func (s *Session) Thaw(c snapshot.Container, opts ...snapshot.ThawOption) (remote.Ref, error) {
	return s.marshaler.Thaw(c, s, opts...)
}

func (s *Session) alias(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if id != "" && id != s.id {
			s.aliases[id] = struct{}{}
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cache.Clear()
}

func (s *Session) record(endpoint string) Record {
	return Record{
		ID:        s.id,
		Endpoint:  endpoint,
		User:      s.user,
		Root:      s.root.ObjectID,
		Aliases:   s.Aliases(),
		CreatedAt: s.created,
	}
}
