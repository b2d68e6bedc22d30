package relay

import (
	"context"
	"errors"
	"sync"
)

const memoryEventBuffer = 1024

var errBrokerClosed = errors.New("broker closed")

// MemoryBus is an in-process pub/sub bus. Every MemoryBroker attached to the
// same bus behaves like a separate gateway sharing one broker.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*MemoryBroker]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*MemoryBroker]struct{})}
}

func (b *MemoryBus) subscribe(channel string, m *MemoryBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[*MemoryBroker]struct{})
		b.subs[channel] = set
	}
	set[m] = struct{}{}
}

func (b *MemoryBus) unsubscribe(channel string, m *MemoryBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[channel]; ok {
		delete(set, m)
		if len(set) == 0 {
			delete(b.subs, channel)
		}
	}
}

func (b *MemoryBus) detach(m *MemoryBroker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, set := range b.subs {
		delete(set, m)
		if len(set) == 0 {
			delete(b.subs, channel)
		}
	}
}

func (b *MemoryBus) publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	targets := make([]*MemoryBroker, 0, len(b.subs[channel]))
	for m := range b.subs[channel] {
		targets = append(targets, m)
	}
	b.mu.RUnlock()

	for _, m := range targets {
		m.deliver(ctx, Event{Kind: EventMessage, Channel: channel, Payload: payload})
	}
	return nil
}

// MemoryBroker is a Broker backed by a MemoryBus.
type MemoryBroker struct {
	bus    *MemoryBus
	events chan Event

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryBroker(bus *MemoryBus) *MemoryBroker {
	return &MemoryBroker{
		bus:    bus,
		events: make(chan Event, memoryEventBuffer),
		done:   make(chan struct{}),
	}
}

func (m *MemoryBroker) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bus == nil {
		return errors.New("memory broker has no bus")
	}
	m.connected = true
	return nil
}

func (m *MemoryBroker) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if !m.isConnected() {
		return errBrokerClosed
	}
	return m.bus.publish(ctx, channel, append([]byte(nil), payload...))
}

func (m *MemoryBroker) Subscribe(ctx context.Context, channel string) error {
	if !m.isConnected() {
		return errBrokerClosed
	}
	m.bus.subscribe(channel, m)
	m.deliver(ctx, Event{Kind: EventSubscription, Channel: channel})
	return nil
}

func (m *MemoryBroker) Unsubscribe(ctx context.Context, channel string) error {
	if !m.isConnected() {
		return errBrokerClosed
	}
	m.bus.unsubscribe(channel, m)
	m.deliver(ctx, Event{Kind: EventSubscription, Channel: channel})
	return nil
}

// deliver blocks until the event is queued, the subscription is closed or ctx
// ends, so a single publisher's order is kept.
func (m *MemoryBroker) deliver(ctx context.Context, ev Event) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.events <- ev:
	case <-m.done:
	case <-ctx.Done():
	}
}

func (m *MemoryBroker) Events() <-chan Event {
	return m.events
}

func (m *MemoryBroker) CloseSubscription() error {
	m.closeOnce.Do(func() {
		m.bus.detach(m)
		close(m.done)
	})
	return nil
}

func (m *MemoryBroker) Close() error {
	if err := m.CloseSubscription(); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}
