package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
	"github.com/GriffinCanCode/vboxremote/internal/remote/remotetest"
)

const sessionID = "sess-1"

var machine = remote.NewRef("m-1", remote.KindMachine, sessionID)

func newDispatcher(t *testing.T, transport remote.Transport, opts ...Option) *Dispatcher {
	t.Helper()
	return New(sessionID, descriptor.MustLoad(), transport, cache.New(), opts...)
}

func TestCacheCoherence(t *testing.T) {
	fake := remotetest.NewFake().Respond("IMachine_getName", remotetest.String("db"))
	d := newDispatcher(t, fake)
	ctx := context.Background()

	first, err := d.Invoke(ctx, machine, "getName")
	require.NoError(t, err)
	second, err := d.Invoke(ctx, machine, "getName")
	require.NoError(t, err)

	assert.Equal(t, "db", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.Count("IMachine_getName"))
}

func TestInvalidationForcesRefetch(t *testing.T) {
	fake := remotetest.NewFake().Sequence("IMachine_getState",
		remotetest.Enum("PoweredOff"), remotetest.Enum("Running"))
	d := newDispatcher(t, fake)
	ctx := context.Background()

	v, err := d.Invoke(ctx, machine, "getState")
	require.NoError(t, err)
	assert.Equal(t, "PoweredOff", v)

	d.ClearCacheNamed(machine, "getState")

	v, err = d.Invoke(ctx, machine, "getState")
	require.NoError(t, err)
	assert.Equal(t, "Running", v)
	assert.Equal(t, 2, fake.Count("IMachine_getState"))
}

func TestNonCacheableAlwaysCallsTransport(t *testing.T) {
	fake := remotetest.NewFake().Respond("IVirtualBox_findMachine", remotetest.Ref("m-1"))
	d := newDispatcher(t, fake)
	vbox := remote.NewRef("vbox", remote.KindVirtualBox, sessionID)

	for i := 0; i < 3; i++ {
		v, err := d.Invoke(context.Background(), vbox, "findMachine", "db")
		require.NoError(t, err)
		assert.Equal(t, machine, v)
	}
	assert.Equal(t, 3, fake.Count("IVirtualBox_findMachine"))
	assert.Equal(t, 0, d.Cache().Len())
}

func TestCoalescesConcurrentMisses(t *testing.T) {
	const n = 16
	fake := remotetest.NewFake()
	gate := fake.Block("IMachine_getState", remotetest.Enum("Running"))
	metrics := monitoring.NewMetrics(nil)
	d := newDispatcher(t, fake, WithMetrics(metrics))

	var started, done sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = d.Invoke(context.Background(), machine, "getState")
		}(i)
	}
	started.Wait()
	<-gate.Entered()
	time.Sleep(50 * time.Millisecond)
	gate.Release()
	done.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Running", results[i])
	}
	assert.Equal(t, 1, fake.Count("IMachine_getState"))
	assert.Greater(t, testutil.ToFloat64(metrics.CoalescedCalls.WithLabelValues("IMachine", "getState")), 0.0)
}

func TestInvalidatedWhileInFlightIsNotCached(t *testing.T) {
	fake := remotetest.NewFake()
	gate := fake.Block("IMachine_getState", remotetest.Enum("Starting"))
	d := newDispatcher(t, fake)

	result := make(chan any, 1)
	go func() {
		v, _ := d.Invoke(context.Background(), machine, "getState")
		result <- v
	}()
	<-gate.Entered()

	d.ClearCacheNamed(machine, "getState")
	gate.Release()
	assert.Equal(t, "Starting", <-result)

	_, ok := d.Cache().Get(machine.ObjectID, "getState")
	assert.False(t, ok, "stale read must not be cached")

	fake.Respond("IMachine_getState", remotetest.Enum("Running"))
	v, err := d.Invoke(context.Background(), machine, "getState")
	require.NoError(t, err)
	assert.Equal(t, "Running", v)
	assert.Equal(t, 2, fake.Count("IMachine_getState"))
}

func TestCancelledCallerStopsWaiting(t *testing.T) {
	fake := remotetest.NewFake()
	gate := fake.Block("IMachine_getName", remotetest.String("db"))
	d := newDispatcher(t, fake)

	patient := make(chan any, 1)
	go func() {
		v, _ := d.Invoke(context.Background(), machine, "getName")
		patient <- v
	}()
	<-gate.Entered()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Invoke(ctx, machine, "getName")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.True(t, errors.Is(err, remote.ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))

	gate.Release()
	assert.Equal(t, "db", <-patient)
	assert.Equal(t, 1, fake.Count("IMachine_getName"))
}

func TestCancelledSoleCallerAppliesNoCacheUpdate(t *testing.T) {
	fake := remotetest.NewFake()
	gate := fake.Block("IMachine_getName", remotetest.String("db"))
	d := newDispatcher(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Invoke(ctx, machine, "getName")
		errCh <- err
	}()
	<-gate.Entered()
	cancel()

	assert.True(t, errors.Is(<-errCh, remote.ErrCancelled))
	time.Sleep(20 * time.Millisecond)
	gate.Release()

	assert.Never(t, func() bool {
		_, ok := d.Cache().Get(machine.ObjectID, "getName")
		return ok
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestAlreadyCancelledContext(t *testing.T) {
	fake := remotetest.NewFake().Respond("IMachine_getName", remotetest.String("db"))
	d := newDispatcher(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Invoke(ctx, machine, "getName")
	assert.True(t, errors.Is(err, remote.ErrCancelled))
	assert.Equal(t, 0, fake.Total())
}

func TestForeignSessionRejectedLocally(t *testing.T) {
	fake := remotetest.NewFake().Respond("IMachine_getName", remotetest.String("db"))
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine.Rebind("sess-2"), "getName")
	assert.True(t, remote.IsFault(err, remote.FaultInvalidSession))
	assert.Equal(t, 0, fake.Total())
}

func TestForeignReferenceArgumentRejectedLocally(t *testing.T) {
	fake := remotetest.NewFake()
	d := newDispatcher(t, fake)
	ctx := context.Background()

	foreign := remote.NewRef("s-9", remote.KindSession, "other-session")
	_, err := d.Invoke(ctx, machine, "lockMachine", foreign, "Shared")
	assert.True(t, remote.IsFault(err, remote.FaultInvalidSession), "got %v", err)
	assert.Contains(t, err.Error(), "other-session")

	collector := remote.NewRef("pc-1", remote.KindPerformanceCollector, sessionID)
	objects := []remote.Ref{machine, machine.Rebind("other-session")}
	_, err = d.Invoke(ctx, collector, "setupMetrics", []string{"CPU/Load/User"}, objects, 1, 10)
	assert.True(t, remote.IsFault(err, remote.FaultInvalidSession), "got %v", err)
	assert.Equal(t, 0, fake.Total())

	fake.Respond("IMachine_lockMachine", remote.Void)
	_, err = d.Invoke(ctx, machine, "lockMachine", remote.NewRef("s-1", remote.KindSession, sessionID), "Shared")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Total())
}

func TestUnknownMethod(t *testing.T) {
	fake := remotetest.NewFake()
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine, "getWarpFactor")
	assert.True(t, errors.Is(err, remote.ErrUnknownMethod))
	assert.Equal(t, 0, fake.Total())
}

func TestEncodeFailureSendsNothing(t *testing.T) {
	fake := remotetest.NewFake()
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine, "setMemorySize", -1)
	assert.True(t, errors.Is(err, remote.ErrEncode))

	_, err = d.Invoke(context.Background(), machine, "getName", "extra")
	assert.True(t, errors.Is(err, remote.ErrEncode))
	assert.Equal(t, 0, fake.Total())
}

func TestNullReference(t *testing.T) {
	fake := remotetest.NewFake()
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), remote.NewRef("", remote.KindErrorInfo, sessionID), "getText")
	assert.True(t, remote.IsFault(err, remote.FaultInvalidArgument))
	assert.Equal(t, 0, fake.Total())
}

func TestRemoteFaultIsNotCached(t *testing.T) {
	fake := remotetest.NewFake().Fail("IMachine_getName",
		remote.Faultf(remote.FaultObjectNotFound, "no such machine"))
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine, "getName")
	assert.True(t, remote.IsFault(err, remote.FaultObjectNotFound))

	fake.Respond("IMachine_getName", remotetest.String("db"))
	v, err := d.Invoke(context.Background(), machine, "getName")
	require.NoError(t, err)
	assert.Equal(t, "db", v)
	assert.Equal(t, 2, fake.Count("IMachine_getName"))
}

func TestTransportErrorWrapped(t *testing.T) {
	fake := remotetest.NewFake().Fail("IMachine_getName", errors.New("connection reset"))
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine, "getName")
	var te *remote.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "IMachine_getName", te.Op)
	assert.True(t, errors.Is(err, remote.ErrTransport))
}

func TestDecodeFailure(t *testing.T) {
	fake := remotetest.NewFake().Respond("IMachine_getMemorySize", remotetest.String("lots"))
	d := newDispatcher(t, fake)

	_, err := d.Invoke(context.Background(), machine, "getMemorySize")
	assert.True(t, errors.Is(err, remote.ErrDecode))
	assert.Equal(t, 0, d.Cache().Len())
}

func TestMutatingCallInvalidatesAffected(t *testing.T) {
	fake := remotetest.NewFake().
		Respond("IMachine_getName", remotetest.String("db")).
		Sequence("IMachine_getDescription", remotetest.String("old"), remotetest.String("new")).
		Respond("IMachine_setDescription", remote.Void)
	d := newDispatcher(t, fake)
	ctx := context.Background()

	_, err := d.Invoke(ctx, machine, "getName")
	require.NoError(t, err)
	_, err = d.Invoke(ctx, machine, "getDescription")
	require.NoError(t, err)

	_, err = d.Invoke(ctx, machine, "setDescription", "new")
	require.NoError(t, err)

	v, err := d.Invoke(ctx, machine, "getDescription")
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	_, err = d.Invoke(ctx, machine, "getName")
	require.NoError(t, err)

	assert.Equal(t, 2, fake.Count("IMachine_getDescription"))
	assert.Equal(t, 1, fake.Count("IMachine_getName"), "unaffected property stays cached")

	calls := fake.Calls()
	var set remote.Call
	for _, c := range calls {
		if c.Method == "IMachine_setDescription" {
			set = c
		}
	}
	assert.False(t, set.Idempotent)
	assert.Equal(t, []remote.Arg{{Name: "description", Type: remote.TypeString, Value: "new"}}, set.Args)
}

func TestMutatingCallWithoutAffectsClearsObject(t *testing.T) {
	session := remote.NewRef("s-obj", remote.KindSession, sessionID)
	fake := remotetest.NewFake().
		Respond("ISession_getState", remotetest.Enum("Locked")).
		Respond("ISession_getType", remotetest.Enum("WriteLock")).
		Respond("ISession_unlockMachine", remote.Void)
	d := newDispatcher(t, fake)
	ctx := context.Background()

	_, err := d.Invoke(ctx, session, "getState")
	require.NoError(t, err)
	_, err = d.Invoke(ctx, session, "getType")
	require.NoError(t, err)
	d.Cache().Put("other", "getName", "kept")

	_, err = d.Invoke(ctx, session, "unlockMachine")
	require.NoError(t, err)

	assert.Empty(t, d.Cache().Methods(session.ObjectID))
	_, ok := d.Cache().Get("other", "getName")
	assert.True(t, ok)
}

func TestFailedMutatingCallInvalidatesNothing(t *testing.T) {
	fake := remotetest.NewFake().
		Respond("IMachine_getDescription", remotetest.String("old")).
		Fail("IMachine_setDescription", remote.Faultf(remote.FaultInvalidObjectState, "machine is locked"))
	d := newDispatcher(t, fake)
	ctx := context.Background()

	_, err := d.Invoke(ctx, machine, "getDescription")
	require.NoError(t, err)
	_, err = d.Invoke(ctx, machine, "setDescription", "new")
	assert.True(t, remote.IsFault(err, remote.FaultInvalidObjectState))

	v, ok := d.Cache().Get(machine.ObjectID, "getDescription")
	assert.True(t, ok)
	assert.Equal(t, "old", v)
}

func TestNestedReferencesInheritSession(t *testing.T) {
	fake := remotetest.NewFake().Respond("IVirtualBox_getMachines", remotetest.Refs("m-1", "m-2"))
	d := newDispatcher(t, fake)
	vbox := remote.NewRef("vbox", remote.KindVirtualBox, sessionID)

	v, err := d.Invoke(context.Background(), vbox, "getMachines")
	require.NoError(t, err)
	refs := v.([]remote.Ref)
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, sessionID, r.SessionID)
		assert.Equal(t, remote.KindMachine, r.Kind)
	}

	// callers can't corrupt the cached list
	refs[0] = remote.Ref{}
	again, err := d.Invoke(context.Background(), vbox, "getMachines")
	require.NoError(t, err)
	assert.Equal(t, "m-1", again.([]remote.Ref)[0].ObjectID)
}

func TestWithMockTransport(t *testing.T) {
	tr := new(remotetest.MockTransport)
	tr.On("Send", mock.Anything, remotetest.CallOn("m-1", "IMachine_getCPUCount")).
		Return(remotetest.Uint(4), nil).Once()
	d := newDispatcher(t, tr)

	for i := 0; i < 3; i++ {
		v, err := d.Invoke(context.Background(), machine, "getCPUCount")
		require.NoError(t, err)
		assert.Equal(t, uint32(4), v)
	}
	tr.AssertExpectations(t)
	tr.AssertNumberOfCalls(t, "Send", 1)
}
