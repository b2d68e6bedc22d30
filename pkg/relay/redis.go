package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is a Broker on Redis PUBLISH/SUBSCRIBE. All room channels share
// a single PubSub connection.
type RedisBroker struct {
	opts   *redis.Options
	client *redis.Client
	pubsub *redis.PubSub

	events     chan Event
	eventsOnce sync.Once
	done       chan struct{}
	closeOnce  sync.Once
	forwarder  sync.WaitGroup
}

func NewRedisBroker(addr string) *RedisBroker {
	return NewRedisBrokerWithOptions(&redis.Options{Addr: addr})
}

func NewRedisBrokerWithOptions(opts *redis.Options) *RedisBroker {
	return &RedisBroker{
		opts:   opts,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

func (b *RedisBroker) Connect(ctx context.Context) error {
	client := redis.NewClient(b.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping %s: %w", b.opts.Addr, err)
	}
	b.client = client
	// No channels yet; rooms are added as local clients join.
	b.pubsub = client.Subscribe(ctx)
	return nil
}

// Client exposes the underlying connection for components sharing it.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.client == nil {
		return errBrokerClosed
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) error {
	if b.pubsub == nil {
		return errBrokerClosed
	}
	return b.pubsub.Subscribe(ctx, channel)
}

func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	if b.pubsub == nil {
		return errBrokerClosed
	}
	return b.pubsub.Unsubscribe(ctx, channel)
}

func (b *RedisBroker) Events() <-chan Event {
	b.eventsOnce.Do(func() {
		if b.pubsub == nil {
			close(b.events)
			return
		}
		b.forwarder.Add(1)
		go b.forward(b.pubsub.ChannelWithSubscriptions())
	})
	return b.events
}

func (b *RedisBroker) forward(in <-chan interface{}) {
	defer b.forwarder.Done()
	defer close(b.events)

	for {
		var v interface{}
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			v = msg
		case <-b.done:
			return
		}

		var ev Event
		switch m := v.(type) {
		case *redis.Message:
			ev = Event{Kind: EventMessage, Channel: m.Channel, Payload: []byte(m.Payload)}
		case *redis.Subscription:
			ev = Event{Kind: EventSubscription, Channel: m.Channel}
		default:
			continue
		}
		select {
		case b.events <- ev:
		case <-b.done:
			return
		}
	}
}

func (b *RedisBroker) CloseSubscription() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		if b.pubsub != nil {
			err = b.pubsub.Close()
		}
		b.forwarder.Wait()
	})
	return err
}

func (b *RedisBroker) Close() error {
	if err := b.CloseSubscription(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
