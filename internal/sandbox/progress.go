package sandbox

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// Result codes reported by progress objects.
const (
	codeOK    int32 = 0
	codeFail  int32 = -0x7fffbffb // E_FAIL, 0x80004005
	codeAbort int32 = -0x7fffbffc // E_ABORT, 0x80004004
)

// progress is a long running operation that completes once its duration
// has elapsed on the server clock. Results are decided at completion.
type progress struct {
	base
	uuid        string
	description string
	ops         []string
	cancelable  bool

	started  time.Time
	duration time.Duration
	timer    clock.Timer
	done     chan struct{}

	completed  bool
	canceled   bool
	resultCode int32
	errorInfo  string

	// finish runs once at completion and may fail the operation by
	// returning a non-empty error text.
	finish func(p *progress) string
	// undo runs instead of finish when the operation is canceled.
	undo func(p *progress)
}

type operation struct {
	description string
	ops         []string
	cancelable  bool
	finish      func(p *progress) string
	undo        func(p *progress)
}

// startProgress creates a progress object and schedules its completion.
func (s *Server) startProgress(op operation) *progress {
	if len(op.ops) == 0 {
		op.ops = []string{op.description}
	}
	p := &progress{
		base:        s.newBase(remote.KindProgress),
		uuid:        uuid.NewString(),
		description: op.description,
		ops:         op.ops,
		cancelable:  op.cancelable,
		started:     s.now(),
		duration:    s.opDuration,
		done:        make(chan struct{}),
		finish:      op.finish,
		undo:        op.undo,
	}
	s.add(p)
	p.timer = s.afterFunc(p.duration, func() { s.settle(p) })
	return p
}

// settle completes p if its time is up. Getters call it too, so a reader
// never sees a stale progress when the timer is late.
func (s *Server) settle(p *progress) {
	if p.completed || s.now().Sub(p.started) < p.duration {
		return
	}
	p.completed = true
	if p.finish != nil {
		if text := p.finish(p); text != "" {
			s.fail(p, codeFail, text)
		}
	}
	close(p.done)
}

func (s *Server) fail(p *progress, code int32, text string) {
	info := &errorInfo{
		base:      s.newBase(remote.KindErrorInfo),
		code:      code,
		iid:       uuid.NewString(),
		component: "Progress",
		text:      text,
	}
	s.add(info)
	p.resultCode = code
	p.errorInfo = info.id
}

func (s *Server) cancel(p *progress) error {
	if p.completed {
		return nil
	}
	if !p.cancelable {
		return remote.Faultf(remote.FaultInvalidObjectState, "operation %q cannot be canceled", p.description)
	}
	p.timer.Stop()
	p.completed = true
	p.canceled = true
	s.fail(p, codeAbort, "Operation was canceled")
	if p.undo != nil {
		p.undo(p)
	}
	close(p.done)
	return nil
}

func (p *progress) elapsed(now time.Time) time.Duration {
	d := now.Sub(p.started)
	if d < 0 {
		return 0
	}
	return d
}

func (p *progress) percent(now time.Time) uint32 {
	if p.completed {
		return 100
	}
	pct := uint32(p.elapsed(now) * 100 / p.duration)
	return min(pct, 99)
}

func (p *progress) operation(now time.Time) uint32 {
	n := uint32(len(p.ops))
	return min(p.percent(now)*n/100, n-1)
}

func (p *progress) operationPercent(now time.Time) uint32 {
	if p.completed {
		return 100
	}
	n := uint32(len(p.ops))
	pct := p.percent(now)*n - p.operation(now)*100
	return min(pct, 100)
}

// timeRemaining is in whole seconds; -1 means unknown.
func (p *progress) timeRemaining(now time.Time) int32 {
	if p.completed {
		return 0
	}
	left := p.duration - p.elapsed(now)
	return int32(math.Ceil(left.Seconds()))
}
