// Package id generates prefixed ULIDs for sessions, events, requests,
// trace spans and sandbox objects. ULIDs sort by creation time, so logs and
// Redis keys list in order.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a remote session.
type SessionID string

// EventID identifies an event notification.
type EventID string

// RequestID identifies a request or trace.
type RequestID string

// ObjectID identifies an object served by the sandbox.
type ObjectID string

const (
	SessionPrefix = "sess"
	EventPrefix   = "evt"
	RequestPrefix = "req"
	SpanPrefix    = "span"
	ObjectPrefix  = "obj"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic, cryptographically
// secure entropy: ids generated within the same millisecond still sort.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

func NewSessionID() SessionID { return SessionID(Default().GenerateWithPrefix(SessionPrefix)) }
func NewEventID() EventID     { return EventID(Default().GenerateWithPrefix(EventPrefix)) }
func NewRequestID() RequestID { return RequestID(Default().GenerateWithPrefix(RequestPrefix)) }
func NewObjectID() ObjectID   { return ObjectID(Default().GenerateWithPrefix(ObjectPrefix)) }

// NewSpanID generates a span id for tracing.
func NewSpanID() string { return Default().GenerateWithPrefix(SpanPrefix) }

func (id SessionID) String() string { return string(id) }
func (id EventID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id ObjectID) String() string  { return string(id) }

// Prefix returns the prefix of a prefixed id, or "" when there is none.
func Prefix(s string) string {
	prefix, _, ok := strings.Cut(s, "_")
	if !ok {
		return ""
	}
	return prefix
}

// Timestamp extracts the creation time of a (possibly prefixed) id.
func Timestamp(s string) (time.Time, error) {
	if _, rest, ok := strings.Cut(s, "_"); ok {
		s = rest
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ulid.Time(parsed.Time()), nil
}
