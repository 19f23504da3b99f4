package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/snapshot"
)

// Thawer rebuilds references from snapshots inside a session.
type Thawer interface {
	Thaw(c snapshot.Container, opts ...snapshot.ThawOption) (remote.Ref, error)
}

// HandlerFunc consumes an event whose snapshot was thawed into ref.
type HandlerFunc func(ctx context.Context, ref remote.Ref, ev Event)

// Listener thaws event snapshots into a session before handing them on.
// Snapshots replace what the session cached about the object. Events
// belonging to other sessions are skipped.
type Listener struct {
	thawer  Thawer
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewListener creates a listener thawing into thawer.
func NewListener(thawer Thawer, logger *zap.Logger, metrics *monitoring.Metrics) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{thawer: thawer, logger: logger, metrics: metrics}
}

// Run delivers events from sub until it closes or ctx is done.
func (l *Listener) Run(ctx context.Context, sub Subscription, handle HandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			l.Deliver(ctx, ev, handle)
		}
	}
}

// Deliver thaws one event and calls handle. It reports whether the event
// reached the handler.
func (l *Listener) Deliver(ctx context.Context, ev Event, handle HandlerFunc) bool {
	ref, err := l.thawer.Thaw(ev.Snapshot, snapshot.WithReplace())
	switch {
	case errors.Is(err, remote.ErrSessionExpired):
		l.metrics.RecordEvent(ev.Name, "foreign")
		l.logger.Debug("Skipping event of another session",
			zap.String("event", ev.Name),
			zap.String("session", ev.Snapshot.SessionID))
		return false
	case err != nil:
		l.metrics.RecordEvent(ev.Name, "rejected")
		l.logger.Warn("Cannot thaw event snapshot", zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	l.metrics.RecordEvent(ev.Name, "delivered")
	handle(ctx, ref, ev)
	return true
}
