package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vboxremote/internal/infrastructure/monitoring"
)

const channelPrefix = "vbox:events:"

// Channel returns the Redis channel events of name travel on.
func Channel(name string) string {
	return channelPrefix + name
}

// RedisBus delivers events between processes over Redis pub/sub. The
// client is owned by the caller.
type RedisBus struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRedisBus creates a bus on client.
func NewRedisBus(client redis.UniversalClient, logger *zap.Logger, metrics *monitoring.Metrics) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger, metrics: metrics}
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(ev.Name), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

// Subscribe implements Bus. It returns once Redis confirmed the
// subscription, so events published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, name string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Event, defaultBuffer)}
	go b.pump(ctx, name, sub)
	return sub, nil
}

func (b *RedisBus) pump(ctx context.Context, name string, sub *redisSub) {
	defer close(sub.ch)
	msgs := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				b.metrics.RecordEvent(name, "malformed")
				b.logger.Warn("Dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case sub.ch <- ev:
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}
}

// Close is a no-op; subscriptions end with their context or Close.
func (b *RedisBus) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	once sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
