// Package remotetest provides transports for tests: a scripted fake that
// counts calls and a testify mock.
package remotetest

import (
	"context"
	"strconv"
	"sync"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Handler answers one call.
type Handler func(ctx context.Context, call remote.Call) (remote.Response, error)

// FakeTransport answers calls from handlers registered per wire method name.
// Unregistered methods fail with a NotImplemented fault.
type FakeTransport struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []remote.Call
}

// NewFake creates an empty fake transport.
func NewFake() *FakeTransport {
	return &FakeTransport{handlers: make(map[string]Handler)}
}

// Handle registers a handler for a wire method.
func (f *FakeTransport) Handle(method string, h Handler) *FakeTransport {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
	return f
}

// Respond always answers method with resp.
func (f *FakeTransport) Respond(method string, resp remote.Response) *FakeTransport {
	return f.Handle(method, func(context.Context, remote.Call) (remote.Response, error) {
		return resp, nil
	})
}

// Fail always answers method with err.
func (f *FakeTransport) Fail(method string, err error) *FakeTransport {
	return f.Handle(method, func(context.Context, remote.Call) (remote.Response, error) {
		return remote.Response{}, err
	})
}

// Sequence answers successive calls with resps in order; the last one repeats.
func (f *FakeTransport) Sequence(method string, resps ...remote.Response) *FakeTransport {
	var mu sync.Mutex
	next := 0
	return f.Handle(method, func(context.Context, remote.Call) (remote.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		return resp, nil
	})
}

// Send records the call and runs its handler.
func (f *FakeTransport) Send(ctx context.Context, call remote.Call) (remote.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	h, ok := f.handlers[call.Method]
	f.mu.Unlock()

	if !ok {
		return remote.Response{}, remote.Faultf(remote.FaultNotImplemented, "%s is not scripted", call.Method)
	}
	return h(ctx, call)
}

// Calls returns a copy of every call sent so far.
func (f *FakeTransport) Calls() []remote.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Call(nil), f.calls...)
}

// Count returns how many times method was sent.
func (f *FakeTransport) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Total returns the number of calls sent.
func (f *FakeTransport) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset forgets recorded calls, keeping handlers.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Gate holds calls of a method until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Block makes method wait on the returned gate before answering resp.
// Waiting calls give up when their context ends.
func (f *FakeTransport) Block(method string, resp remote.Response) *Gate {
	g := &Gate{entered: make(chan struct{}, 1024), release: make(chan struct{})}
	f.Handle(method, func(ctx context.Context, _ remote.Call) (remote.Response, error) {
		g.entered <- struct{}{}
		select {
		case <-g.release:
			return resp, nil
		case <-ctx.Done():
			return remote.Response{}, ctx.Err()
		}
	})
	return g
}

// Entered returns a channel receiving one value per call that reached the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets every waiting and future call through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// Response constructors.

func String(s string) remote.Response {
	return remote.Response{Type: remote.TypeString, Value: s}
}

func Enum(s string) remote.Response {
	return remote.Response{Type: remote.TypeEnum, Value: s}
}

func Int(n int32) remote.Response {
	return remote.Response{Type: remote.TypeInt, Value: strconv.FormatInt(int64(n), 10)}
}

func Uint(n uint32) remote.Response {
	return remote.Response{Type: remote.TypeUnsignedInt, Value: strconv.FormatUint(uint64(n), 10)}
}

func Long(n int64) remote.Response {
	return remote.Response{Type: remote.TypeLong, Value: strconv.FormatInt(n, 10)}
}

func Bool(b bool) remote.Response {
	return remote.Response{Type: remote.TypeBoolean, Value: strconv.FormatBool(b)}
}

func Strings(values ...string) remote.Response {
	return remote.Response{Type: remote.TypeStringList, Values: values}
}

func Ints(values ...int32) remote.Response {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatInt(int64(v), 10)
	}
	return remote.Response{Type: remote.TypeIntList, Values: out}
}

func Ref(objectID string) remote.Response {
	return remote.Response{Type: remote.TypeRef, Value: objectID}
}

func Refs(objectIDs ...string) remote.Response {
	return remote.Response{Type: remote.TypeRefList, Values: objectIDs}
}
