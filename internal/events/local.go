package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
)

const defaultBuffer = 64

// LocalBus delivers events between goroutines of one process. Slow
// subscribers lose events rather than block publishers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
	buffer int

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(logger *zap.Logger, metrics *monitoring.Metrics) *LocalBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBus{
		subs:    make(map[string]map[*localSub]struct{}),
		buffer:  defaultBuffer,
		logger:  logger,
		metrics: metrics,
	}
}

type localSub struct {
	bus  *LocalBus
	name string
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *localSub) end() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

func (s *localSub) Events() <-chan Event { return s.ch }

func (s *localSub) Close() error {
	s.bus.remove(s)
	return nil
}

// Publish implements Publisher.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[ev.Name] {
		select {
		case sub.ch <- ev:
		default:
			b.metrics.RecordEvent(ev.Name, "dropped")
			b.logger.Warn("Subscriber too slow, dropping event",
				zap.String("event", ev.Name),
				zap.String("id", ev.ID))
		}
	}
	return nil
}

// Subscribe implements Bus. The subscription ends when ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, name string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &localSub{bus: b, name: name, ch: make(chan Event, b.buffer), done: make(chan struct{})}
	if b.subs[name] == nil {
		b.subs[name] = make(map[*localSub]struct{})
	}
	b.subs[name][sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			b.remove(sub)
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (b *LocalBus) remove(sub *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.name][sub]; !ok {
		return
	}
	delete(b.subs[sub.name], sub)
	sub.end()
}

// Close ends every subscription.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.end()
		}
	}
	b.subs = nil
	return nil
}
