package vbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
	"github.com/GriffinCanCode/vboxremote/internal/remote/dispatch"
	"github.com/GriffinCanCode/vboxremote/internal/remote/progress"
	"github.com/GriffinCanCode/vboxremote/internal/sandbox"
)

const opDuration = 2 * time.Second

type fixture struct {
	clk   *testclock.Clock
	calls atomic.Int64
	vb    *VirtualBox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clk: testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	srv := sandbox.New(sandbox.WithClock(f.clk), sandbox.WithOperationDuration(opDuration))
	tr := remote.TransportFunc(func(ctx context.Context, call remote.Call) (remote.Response, error) {
		f.calls.Add(1)
		return srv.Handle(ctx, call)
	})

	table := descriptor.MustLoad()
	logon, err := table.Lookup(remote.KindWebsessionManager, "logon")
	require.NoError(t, err)
	args, err := logon.EncodeArgs([]any{"vbox", "vbox"})
	require.NoError(t, err)
	resp, err := tr.Send(context.Background(), remote.Call{
		ObjectID: remote.WebsessionManagerID,
		Method:   logon.WireName,
		Args:     args,
	})
	require.NoError(t, err)

	d := dispatch.New(resp.SessionID, table, tr, cache.New())
	f.vb = NewVirtualBox(d, remote.NewRef(resp.Value, remote.KindVirtualBox, resp.SessionID))
	return f
}

func (f *fixture) machine(t *testing.T, name string) *Machine {
	t.Helper()
	m, err := f.vb.FindMachine(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

// complete lets the server finish p and waits for it.
func (f *fixture) complete(t *testing.T, p *Progress) {
	t.Helper()
	f.clk.Advance(opDuration)
	require.NoError(t, p.WaitForCompletion(context.Background(), -1))
}

func (f *fixture) start(t *testing.T, m *Machine) {
	t.Helper()
	ctx := context.Background()
	p, err := m.Start(ctx, f.vb, "headless")
	require.NoError(t, err)
	f.complete(t, p)
	m.Refresh()
	state, err := m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, MachineRunning, state)
}

func TestVirtualBox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	version, err := f.vb.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, sandbox.Version, version)

	machines, err := f.vb.Machines(ctx)
	require.NoError(t, err)
	assert.Len(t, machines, 3)

	missing, err := f.vb.FindMachine(ctx, "no-such-machine")
	assert.Nil(t, missing)
	assert.True(t, remote.IsFault(err, remote.FaultObjectNotFound))
}

func TestSummarizeServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "ubuntu-server")

	first, err := m.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-server", first.Name)
	assert.Equal(t, MachinePoweredOff, first.State)
	assert.Equal(t, "Ubuntu_64", first.OSTypeID)

	before := f.calls.Load()
	again, err := m.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, before, f.calls.Load(), "cached properties went remote")

	m.Refresh("getState")
	_, err = m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.calls.Load())
}

func TestSettersInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "alpine-edge")

	mem, err := m.MemorySize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), mem)

	require.NoError(t, m.SetMemorySize(ctx, 1024))
	mem, err = m.MemorySize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), mem)

	err = m.SetMemorySize(ctx, 1)
	assert.True(t, remote.IsFault(err, remote.FaultInvalidArgument))
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "ubuntu-server")
	f.start(t, m)

	require.NoError(t, m.Pause(ctx, f.vb))
	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, MachinePaused, state)

	require.NoError(t, m.Resume(ctx, f.vb))
	state, err = m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, MachineRunning, state)

	p, err := m.PowerOff(ctx, f.vb)
	require.NoError(t, err)
	f.complete(t, p)
	m.Refresh()
	state, err = m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, MachinePoweredOff, state)
	locked, err := m.SessionState(ctx)
	require.NoError(t, err)
	assert.Equal(t, SessionUnlocked, locked)

	// the websession's session object is free again
	f.start(t, m)
}

func TestWaitPollsToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "windows-11")

	p, err := m.Start(ctx, f.vb, "headless")
	require.NoError(t, err)

	done := make(chan progress.Outcome, 1)
	go func() {
		out, err := p.Wait(ctx, progress.WithClock(f.clk))
		assert.NoError(t, err)
		done <- out
	}()
	for i := 0; i < int(opDuration/progress.DefaultInterval); i++ {
		require.NoError(t, f.clk.WaitAdvance(progress.DefaultInterval, time.Second, 2))
	}
	out := <-done
	assert.Equal(t, progress.Succeeded, out.State)
	assert.Equal(t, int32(0), out.ResultCode)
}

func TestCancelledLaunch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "alpine-edge")

	p, err := m.Start(ctx, f.vb, "headless")
	require.NoError(t, err)
	require.NoError(t, p.Cancel(ctx))

	done, err := p.Completed(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	p.Refresh("getResultCode", "getErrorInfo")
	code, err := p.ResultCode(ctx)
	require.NoError(t, err)
	assert.NotZero(t, code)

	info, err := p.ErrorInfo(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)
	text, err := info.Text(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "canceled")

	m.Refresh()
	state, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, MachinePoweredOff, state)
}

func TestGuestFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "ubuntu-server")
	f.start(t, m)

	s, err := f.vb.SessionObject(ctx)
	require.NoError(t, err)
	console, err := s.Console(ctx)
	require.NoError(t, err)
	require.NotNil(t, console)
	guest, err := console.Guest(ctx)
	require.NoError(t, err)

	gs, err := guest.CreateSession(ctx, "vbox", "secret", "", "files")
	require.NoError(t, err)
	found, err := guest.FindSession(ctx, "files")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, gs.Ref(), found[0].Ref())

	require.NoError(t, gs.DirectoryCreate(ctx, "/srv/data", 0o755, "Parents"))
	ok, err := gs.DirectoryExists(ctx, "/srv/data")
	require.NoError(t, err)
	assert.True(t, ok)

	p, err := gs.FileCopyToGuest(ctx, "/host/notes.txt", "/srv/data/notes.txt")
	require.NoError(t, err)
	f.complete(t, p)

	size, err := gs.FileQuerySize(ctx, "/srv/data/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2<<10), size)

	info, err := gs.FsObjQueryInfo(ctx, "/srv/data/notes.txt")
	require.NoError(t, err)
	typ, err := info.Type(ctx)
	require.NoError(t, err)
	assert.Equal(t, "File", typ)
	objSize, err := info.ObjectSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, size, objSize)

	require.NoError(t, gs.Close(ctx))
	status, err := gs.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Terminated", status)
}

func TestPerformanceCollector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.machine(t, "ubuntu-server")

	pc, err := f.vb.PerformanceCollector(ctx)
	require.NoError(t, err)
	names, err := pc.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "RAM/Usage/Used")

	metrics, err := pc.SetupMetrics(ctx, []string{"CPU/Load/*"}, []remote.Ref{m.Ref()}, 1, 5)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	for _, metric := range metrics {
		unit, err := metric.Unit(ctx)
		require.NoError(t, err)
		assert.Equal(t, "%", unit)
		obj, err := metric.Object(ctx)
		require.NoError(t, err)
		assert.Equal(t, m.Ref().ObjectID, obj.ObjectID)
	}

	values, err := pc.QueryMetricValues(ctx, "CPU/Load/User", m.Ref())
	require.NoError(t, err)
	for _, v := range values {
		assert.Zero(t, v, "powered off machines report no load")
	}

	_, err = pc.QueryMetricValues(ctx, "RAM/Usage/Used", m.Ref())
	assert.True(t, remote.IsFault(err, remote.FaultObjectNotFound))
}
