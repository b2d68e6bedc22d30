package relay

import "context"

type EventKind int

const (
	// EventMessage carries a payload published on a channel.
	EventMessage EventKind = iota
	// EventSubscription confirms a subscribe or unsubscribe.
	EventSubscription
)

// Event is one inbound broker event.
type Event struct {
	Kind    EventKind
	Channel string
	Payload []byte
}

// Broker is the shared pub/sub bus the relay bridges to. A Broker holds one
// shared subscription handle; Subscribe and Unsubscribe adjust it.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	// Events streams inbound events until CloseSubscription is called.
	Events() <-chan Event
	CloseSubscription() error
	Close() error
}
