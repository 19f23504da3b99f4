package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/cache"
	"github.com/GriffinCanCode/vboxremote/internal/remote/descriptor"
	"github.com/GriffinCanCode/vboxremote/internal/remote/dispatch"
	"github.com/GriffinCanCode/vboxremote/internal/remote/remotetest"
)

var progressRef = remote.NewRef("p-1", remote.KindProgress, "sess-1")

// scripted returns a fake whose progress completes on the k-th poll.
func scripted(k int) *remotetest.FakeTransport {
	completed := make([]remote.Response, k)
	percent := make([]remote.Response, k)
	for i := range completed {
		completed[i] = remotetest.Bool(i == k-1)
		percent[i] = remotetest.Uint(uint32(100 * (i + 1) / k))
	}
	return remotetest.NewFake().
		Respond("IProgress_getDescription", remotetest.String("Starting VM")).
		Respond("IProgress_getOperation", remotetest.Uint(0)).
		Respond("IProgress_getOperationCount", remotetest.Uint(1)).
		Respond("IProgress_getOperationDescription", remotetest.String("Powering on")).
		Respond("IProgress_getOperationPercent", remotetest.Uint(0)).
		Respond("IProgress_getOperationWeight", remotetest.Uint(1)).
		Respond("IProgress_getTimeRemaining", remotetest.Int(-1)).
		Respond("IProgress_getCancelable", remotetest.Bool(true)).
		Respond("IProgress_getResultCode", remotetest.Int(0)).
		Sequence("IProgress_getPercent", percent...).
		Sequence("IProgress_getCompleted", completed...)
}

func newDispatcher(fake *remotetest.FakeTransport) *dispatch.Dispatcher {
	return dispatch.New("sess-1", descriptor.MustLoad(), fake, cache.New())
}

type result struct {
	out Outcome
	err error
}

// runWithClock runs a poll in the background and advances the test clock
// through advances waits.
func runWithClock(t *testing.T, p *Poller, clk *testclock.Clock, advances int) ([]Update, result) {
	t.Helper()
	sink := make(chan Update, 64)
	done := make(chan result, 1)
	go func() {
		out, err := p.Run(context.Background(), progressRef, sink)
		done <- result{out, err}
	}()
	for i := 0; i < advances; i++ {
		require.NoError(t, clk.WaitAdvance(DefaultInterval, time.Second, 1))
	}
	res := <-done
	close(sink)

	var updates []Update
	for u := range sink {
		updates = append(updates, u)
	}
	return updates, res
}

func TestPollerTerminatesAfterKPolls(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		fake := scripted(k)
		clk := testclock.NewClock(time.Unix(1700000000, 0))
		p := NewPoller(newDispatcher(fake), WithClock(clk))

		updates, res := runWithClock(t, p, clk, k-1)
		require.NoError(t, res.err)

		require.Len(t, updates, k)
		for _, u := range updates[:k-1] {
			assert.Equal(t, Polling, u.State)
			assert.False(t, u.Completed)
		}
		last := updates[k-1]
		assert.Equal(t, Succeeded, last.State)
		assert.True(t, last.Completed)
		assert.Equal(t, uint32(100), last.Percent)
		assert.Equal(t, "Starting VM", last.Description)

		assert.Equal(t, Succeeded, res.out.State)
		assert.Equal(t, k, res.out.Polls)
		assert.Equal(t, k, fake.Count("IProgress_getCompleted"))
		assert.Equal(t, 1, fake.Count("IProgress_getOperationCount"))
	}
}

func TestPollerEstimatesRemainingTime(t *testing.T) {
	fake := scripted(4)
	clk := testclock.NewClock(time.Unix(1700000000, 0))
	p := NewPoller(newDispatcher(fake), WithClock(clk))

	updates, res := runWithClock(t, p, clk, 3)
	require.NoError(t, res.err)
	require.Len(t, updates, 4)

	assert.Zero(t, updates[0].ETA)
	// 25% per 500ms poll leaves 50% for one more second
	assert.Equal(t, time.Second, updates[1].ETA)
	assert.Zero(t, updates[3].ETA)
	assert.Equal(t, time.Unix(1700000000, 0).Add(500*time.Millisecond), updates[1].At)
}

func TestPollerPrefersServerTimeRemaining(t *testing.T) {
	tracker := newRateTracker(3)
	start := time.Unix(0, 0)
	assert.Equal(t, 42*time.Second, tracker.eta(Update{Percent: 10, TimeRemaining: 42}, start))
	assert.Equal(t, 7*time.Second, tracker.eta(Update{Percent: 20, TimeRemaining: 7}, start.Add(time.Second)))
	// rate is 10%/s, 70% left
	assert.Equal(t, 7*time.Second, tracker.eta(Update{Percent: 30, TimeRemaining: -1}, start.Add(2*time.Second)))
}

func TestPollerSurfacesOperationFailure(t *testing.T) {
	fake := scripted(2).
		Respond("IProgress_getResultCode", remotetest.Int(-2147467259)).
		Respond("IProgress_getErrorInfo", remotetest.Ref("e-1")).
		Respond("IVirtualBoxErrorInfo_getText", remotetest.String("disk full"))
	clk := testclock.NewClock(time.Unix(0, 0))
	p := NewPoller(newDispatcher(fake), WithClock(clk))

	updates, res := runWithClock(t, p, clk, 1)
	require.NoError(t, res.err)
	require.Len(t, updates, 2)

	assert.Equal(t, Polling, updates[0].State)
	last := updates[1]
	assert.Equal(t, Failed, last.State)
	assert.Contains(t, last.ErrorText, "disk full")
	assert.Equal(t, int32(-2147467259), last.ResultCode)

	assert.Equal(t, Failed, res.out.State)
	assert.Equal(t, "disk full", res.out.ErrorText)
	assert.NoError(t, res.out.Err)
}

func TestPollerFailureWithoutErrorInfo(t *testing.T) {
	fake := scripted(1).
		Respond("IProgress_getResultCode", remotetest.Int(-2147467259)).
		Respond("IProgress_getErrorInfo", remotetest.Ref(""))
	p := NewPoller(newDispatcher(fake), WithInterval(time.Millisecond))

	out, err := p.Run(context.Background(), progressRef, nil)
	require.NoError(t, err)
	assert.Equal(t, Failed, out.State)
	assert.Contains(t, out.ErrorText, "0x80004005")
	assert.Zero(t, fake.Count("IVirtualBoxErrorInfo_getText"))
}

func TestPollerEndsOnMidPollError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matches error
	}{
		{"transport error", errors.New("connection reset"), remote.ErrTransport},
		{"remote fault", remote.Faultf(remote.FaultObjectNotFound, "no such progress"), remote.ErrRemoteFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := scripted(3).Fail("IProgress_getPercent", tt.err)
			p := NewPoller(newDispatcher(fake), WithInterval(time.Millisecond))

			sink := make(chan Update, 8)
			out, err := p.Run(context.Background(), progressRef, sink)
			require.NoError(t, err)
			close(sink)

			var updates []Update
			for u := range sink {
				updates = append(updates, u)
			}
			require.Len(t, updates, 1)
			assert.Equal(t, Failed, updates[0].State)
			assert.NotEmpty(t, updates[0].ErrorText)

			assert.Equal(t, Failed, out.State)
			assert.True(t, errors.Is(out.Err, tt.matches))
			assert.Equal(t, 1, fake.Count("IProgress_getPercent"))
		})
	}
}

func TestPollerCancellation(t *testing.T) {
	fake := scripted(10)
	clk := testclock.NewClock(time.Unix(0, 0))
	p := NewPoller(newDispatcher(fake), WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	sink := make(chan Update, 8)
	done := make(chan result, 1)
	go func() {
		out, err := p.Run(ctx, progressRef, sink)
		done <- result{out, err}
	}()

	first := <-sink
	assert.Equal(t, Polling, first.State)
	cancel()

	res := <-done
	assert.True(t, errors.Is(res.err, remote.ErrCancelled))
	assert.True(t, errors.Is(res.err, context.Canceled))
	assert.Equal(t, Cancelled, res.out.State)

	calls := fake.Total()
	clk.Advance(10 * DefaultInterval)
	assert.Equal(t, calls, fake.Total())
	assert.Empty(t, sink)
}

func TestStartClosesChannel(t *testing.T) {
	fake := scripted(3)
	p := NewPoller(newDispatcher(fake), WithInterval(time.Millisecond))

	var states []State
	for u := range p.Start(context.Background(), progressRef) {
		states = append(states, u.State)
	}
	assert.Equal(t, []State{Polling, Polling, Succeeded}, states)
}

func TestStartCancelledBeforeFirstPoll(t *testing.T) {
	fake := scripted(3)
	p := NewPoller(newDispatcher(fake), WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var updates []Update
	for u := range p.Start(ctx, progressRef) {
		updates = append(updates, u)
	}
	assert.Empty(t, updates)
	assert.Zero(t, fake.Total())
}
