// Package progress drives remote progress objects to completion and
// publishes their state as a stream of updates.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// DefaultInterval is the pause between two polls.
const DefaultInterval = 500 * time.Millisecond

// State is the lifecycle state of a polled operation.
type State string

const (
	Polling   State = "polling"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	// Cancelled is reported by Run only; it is never published.
	Cancelled State = "cancelled"
)

// Terminal reports whether s ends a poll.
func (s State) Terminal() bool { return s != Polling }

// Update is one observation of a progress object.
type Update struct {
	Ref                  remote.Ref    `json:"ref"`
	State                State         `json:"state"`
	Description          string        `json:"description,omitempty"`
	Operation            uint32        `json:"operation"`
	OperationCount       uint32        `json:"operationCount"`
	OperationDescription string        `json:"operationDescription,omitempty"`
	Percent              uint32        `json:"percent"`
	OperationPercent     uint32        `json:"operationPercent"`
	OperationWeight      uint32        `json:"operationWeight"`
	TimeRemaining        int32         `json:"timeRemaining"`
	ETA                  time.Duration `json:"eta"`
	Completed            bool          `json:"completed"`
	Cancelable           bool          `json:"cancelable"`
	ResultCode           int32         `json:"resultCode"`
	ErrorText            string        `json:"errorText,omitempty"`
	At                   time.Time     `json:"at"`
}

// Outcome summarizes a finished poll.
type Outcome struct {
	State      State
	ResultCode int32
	ErrorText  string
	Polls      int
	// Err is the transport error or fault that ended the poll early.
	Err error
}

// Invoker is the part of a dispatcher the poller needs.
type Invoker interface {
	Invoke(ctx context.Context, ref remote.Ref, method string, args ...any) (any, error)
	ClearCacheNamed(ref remote.Ref, names ...string)
}

// volatile lists the properties that change while an operation runs.
var volatile = []string{
	"getDescription",
	"getOperation",
	"getOperationDescription",
	"getPercent",
	"getOperationPercent",
	"getOperationWeight",
	"getTimeRemaining",
	"getCompleted",
}

// Poller polls progress objects at a fixed interval.
type Poller struct {
	invoker  Invoker
	clock    clock.Clock
	interval time.Duration
	window   int
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the pause between polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller creates a poller calling through invoker.
func NewPoller(invoker Invoker, opts ...Option) *Poller {
	p := &Poller{
		invoker:  invoker,
		clock:    clock.WallClock,
		interval: DefaultInterval,
		window:   5,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start polls ref in a new goroutine. The channel is closed after the
// terminal update, or without one when ctx is cancelled.
func (p *Poller) Start(ctx context.Context, ref remote.Ref) <-chan Update {
	ch := make(chan Update, 1)
	go func() {
		defer close(ch)
		if _, err := p.Run(ctx, ref, ch); err != nil {
			p.logger.Debug("Progress watch stopped", zap.Stringer("ref", ref), zap.Error(err))
		}
	}()
	return ch
}

// Run polls ref until it completes, sending every observation to sink.
// Intermediate updates have state Polling; exactly one terminal update
// follows. Errors other than cancellation end the poll with a Failed
// update. On cancellation nothing further is sent and the returned error
// matches remote.ErrCancelled.
func (p *Poller) Run(ctx context.Context, ref remote.Ref, sink chan<- Update) (Outcome, error) {
	p.metrics.PollerStarted()
	out, err := p.run(ctx, ref, sink)
	p.metrics.PollerFinished(string(out.State))
	return out, err
}

func (p *Poller) run(ctx context.Context, ref remote.Ref, sink chan<- Update) (Outcome, error) {
	rate := newRateTracker(p.window)
	var out Outcome

	for {
		out.Polls++
		u, err := p.poll(ctx, ref)
		if err != nil {
			if cerr := cancellation(ctx, err); cerr != nil {
				out.State = Cancelled
				return out, cerr
			}
			p.logger.Warn("Progress poll failed", zap.Stringer("ref", ref), zap.Error(err))
			u = Update{Ref: ref, State: Failed, ErrorText: err.Error(), At: p.clock.Now()}
			out.State, out.ErrorText, out.Err = Failed, u.ErrorText, err
			if err := p.publish(ctx, sink, u); err != nil {
				out.State = Cancelled
				return out, err
			}
			return out, nil
		}
		u.ETA = rate.eta(u, p.clock.Now())

		if !u.Completed {
			if err := p.publish(ctx, sink, u); err != nil {
				out.State = Cancelled
				return out, err
			}
			select {
			case <-p.clock.After(p.interval):
			case <-ctx.Done():
				out.State = Cancelled
				return out, remote.Cancelled(ctx.Err())
			}
			continue
		}

		if err := p.finish(ctx, ref, &u); err != nil {
			if cerr := cancellation(ctx, err); cerr != nil {
				out.State = Cancelled
				return out, cerr
			}
			u.State, u.ErrorText = Failed, err.Error()
			out.Err = err
		}
		out.State, out.ResultCode, out.ErrorText = u.State, u.ResultCode, u.ErrorText
		p.logger.Debug("Progress finished",
			zap.Stringer("ref", ref),
			zap.String("state", string(u.State)),
			zap.Int32("result_code", u.ResultCode),
			zap.Int("polls", out.Polls))
		if err := p.publish(ctx, sink, u); err != nil {
			out.State = Cancelled
			return out, err
		}
		return out, nil
	}
}

// poll refreshes the volatile properties and reads the current state.
func (p *Poller) poll(ctx context.Context, ref remote.Ref) (Update, error) {
	p.invoker.ClearCacheNamed(ref, volatile...)

	u := Update{Ref: ref, State: Polling}
	var err error
	r := reader{ctx: ctx, inv: p.invoker, ref: ref, err: &err}
	u.Description = r.str("getDescription")
	u.Operation = r.u32("getOperation")
	u.OperationCount = r.u32("getOperationCount")
	u.OperationDescription = r.str("getOperationDescription")
	u.Percent = r.u32("getPercent")
	u.OperationPercent = r.u32("getOperationPercent")
	u.OperationWeight = r.u32("getOperationWeight")
	u.TimeRemaining = r.i32("getTimeRemaining")
	u.Cancelable = r.flag("getCancelable")
	u.Completed = r.flag("getCompleted")
	u.At = p.clock.Now()
	return u, err
}

// finish reads the result of a completed operation into u.
func (p *Poller) finish(ctx context.Context, ref remote.Ref, u *Update) error {
	var err error
	r := reader{ctx: ctx, inv: p.invoker, ref: ref, err: &err}
	u.ResultCode = r.i32("getResultCode")
	if err != nil {
		return err
	}
	if u.ResultCode == 0 {
		u.State = Succeeded
		u.Percent = 100
		u.ETA = 0
		return nil
	}

	u.State = Failed
	u.ErrorText = fmt.Sprintf("operation failed with result code %#x", uint32(u.ResultCode))
	v, err := p.invoker.Invoke(ctx, ref, "getErrorInfo")
	if err != nil {
		return err
	}
	info, _ := v.(remote.Ref)
	if info.IsNull() {
		return nil
	}
	text, err := p.invoker.Invoke(ctx, info, "getText")
	if err != nil {
		return err
	}
	if s, _ := text.(string); s != "" {
		u.ErrorText = s
	}
	return nil
}

func (p *Poller) publish(ctx context.Context, sink chan<- Update, u Update) error {
	if sink == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return remote.Cancelled(err)
	}
	select {
	case sink <- u:
		return nil
	case <-ctx.Done():
		return remote.Cancelled(ctx.Err())
	}
}

// cancellation returns the error to report when err was caused by ctx
// being cancelled, or nil.
func cancellation(ctx context.Context, err error) error {
	if errors.Is(err, remote.ErrCancelled) {
		return err
	}
	if ctx.Err() != nil {
		return remote.Cancelled(ctx.Err())
	}
	return nil
}

// reader reads typed properties, remembering the first error.
type reader struct {
	ctx context.Context
	inv Invoker
	ref remote.Ref
	err *error
}

func (r reader) get(name string) any {
	if *r.err != nil {
		return nil
	}
	v, err := r.inv.Invoke(r.ctx, r.ref, name)
	if err != nil {
		*r.err = fmt.Errorf("read %s: %w", name, err)
		return nil
	}
	return v
}

func (r reader) str(name string) string {
	s, _ := r.get(name).(string)
	return s
}

func (r reader) u32(name string) uint32 {
	n, _ := r.get(name).(uint32)
	return n
}

func (r reader) i32(name string) int32 {
	n, _ := r.get(name).(int32)
	return n
}

func (r reader) flag(name string) bool {
	b, _ := r.get(name).(bool)
	return b
}

// rateTracker estimates the remaining time from a moving average of the
// percent-per-second rate between polls.
type rateTracker struct {
	avg     *movingaverage.MovingAverage
	samples int
	last    time.Time
	percent uint32
}

func newRateTracker(window int) *rateTracker {
	return &rateTracker{avg: movingaverage.New(window)}
}

func (t *rateTracker) eta(u Update, now time.Time) time.Duration {
	defer func() { t.last, t.percent = now, u.Percent }()

	if !t.last.IsZero() {
		if dt := now.Sub(t.last).Seconds(); dt > 0 && u.Percent >= t.percent {
			t.avg.Add(float64(u.Percent-t.percent) / dt)
			t.samples++
		}
	}
	if u.TimeRemaining >= 0 {
		return time.Duration(u.TimeRemaining) * time.Second
	}
	if t.samples == 0 || u.Percent >= 100 {
		return 0
	}
	rate := t.avg.Avg()
	if rate <= 0 || math.IsNaN(rate) {
		return 0
	}
	return time.Duration(float64(100-u.Percent) / rate * float64(time.Second))
}
