// Package relay bridges local room fan-out to every other gateway sharing the
// same broker, using one channel per room named "room:{roomID}".
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/logging"
	"github.com/mahaj/roomchat/pkg/model"
)

const channelPrefix = "room:"

var (
	ErrConnection   = errors.New("broker connection failed")
	ErrNotConnected = errors.New("relay not connected")
	ErrConnected    = errors.New("relay already connected")
)

// ChannelName returns the broker channel carrying roomID.
func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

// RoomFromChannel extracts the room id from a broker channel name.
func RoomFromChannel(channel string) (string, bool) {
	parts := strings.SplitN(channel, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateListening
	StateShuttingDown
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives every message the relay reads from the broker.
type Handler interface {
	HandleRoomMessage(ctx context.Context, roomID string, msg model.Message)
}

type HandlerFunc func(ctx context.Context, roomID string, msg model.Message)

func (f HandlerFunc) HandleRoomMessage(ctx context.Context, roomID string, msg model.Message) {
	f(ctx, roomID, msg)
}

type Relay struct {
	broker Broker
	log    hclog.Logger

	mu       sync.Mutex
	state    State
	handler  Handler
	cancel   context.CancelFunc
	listener chan struct{}

	// subMu serializes subscription changes so the broker sees exactly one
	// subscribe per 0->1 transition and one unsubscribe per 1->0.
	subMu sync.Mutex
	subs  map[string]int
}

func New(broker Broker, handler Handler, logger hclog.Logger) *Relay {
	return &Relay{
		broker:  broker,
		handler: handler,
		log:     logging.OrDiscard(logger).Named("relay"),
		subs:    make(map[string]int),
	}
}

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetHandler replaces the inbound message handler.
func (r *Relay) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Relay) currentHandler() Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

func (r *Relay) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateConnected || r.state == StateListening
}

// Connect establishes the broker connection. It must be called exactly once.
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateUninitialized {
		return fmt.Errorf("%w (state %s)", ErrConnected, r.state)
	}
	if err := r.broker.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	r.state = StateConnected
	r.log.Info("connected to broker")
	return nil
}

// StartListening launches the background listener. It is a no-op while a
// listener is already running.
func (r *Relay) StartListening(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateConnected, StateListening:
	default:
		return fmt.Errorf("%w (state %s)", ErrNotConnected, r.state)
	}

	if r.listener != nil {
		select {
		case <-r.listener:
		default:
			return nil
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.listener = done
	r.state = StateListening

	go r.listen(ctx, r.broker.Events(), done)
	return nil
}

func (r *Relay) listen(ctx context.Context, events <-chan Event, done chan struct{}) {
	defer close(done)
	r.log.Info("listener started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("listener stopped")
			return
		case ev, ok := <-events:
			if !ok {
				r.log.Warn("broker event stream closed, listener exiting")
				return
			}
			if ev.Kind != EventMessage {
				continue
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev Event) {
	roomID, ok := RoomFromChannel(ev.Channel)
	if !ok {
		r.log.Error("ignoring message on malformed channel", "channel", ev.Channel)
		return
	}
	msg, err := model.DecodeMessage(ev.Payload)
	if err != nil {
		r.log.Error("failed to decode broker message", "channel", ev.Channel, "error", err)
		return
	}

	h := r.currentHandler()
	if h == nil {
		r.log.Debug("no handler registered, dropping message", "room", roomID)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered from panic in message handler", "room", roomID, "panic", rec)
		}
	}()
	h.HandleRoomMessage(ctx, roomID, msg)
}

// Disconnect stops the listener and waits for it, then closes the
// subscription and finally the broker connection.
func (r *Relay) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateUninitialized, StateDisconnected:
		r.state = StateDisconnected
		r.mu.Unlock()
		return nil
	case StateShuttingDown:
		r.mu.Unlock()
		return nil
	}
	r.state = StateShuttingDown
	cancel, listener := r.cancel, r.listener
	r.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		select {
		case <-listener:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for listener: %w", ctx.Err()))
		}
	}

	if err := r.broker.CloseSubscription(); err != nil {
		errs = append(errs, fmt.Errorf("close subscription: %w", err))
	}
	if err := r.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}

	r.subMu.Lock()
	r.subs = make(map[string]int)
	r.subMu.Unlock()

	r.mu.Lock()
	r.state = StateDisconnected
	r.mu.Unlock()

	r.log.Info("disconnected from broker")
	return errors.Join(errs...)
}

// Publish sends msg to roomID's channel. Delivery is fire-and-forget: errors
// are logged and the message is dropped.
func (r *Relay) Publish(ctx context.Context, roomID string, msg model.Message) {
	if !r.active() {
		r.log.Error("publish while not connected", "room", roomID)
		return
	}
	payload, err := msg.Encode()
	if err != nil {
		r.log.Error("failed to encode message", "room", roomID, "error", err)
		return
	}
	if err := r.broker.Publish(ctx, ChannelName(roomID), payload); err != nil {
		r.log.Error("failed to publish message", "room", roomID, "error", err)
		return
	}
	r.log.Trace("published message", "room", roomID, "type", msg.MessageType)
}

// SubscribeToRoom adds one local subscriber for roomID.
func (r *Relay) SubscribeToRoom(ctx context.Context, roomID string) error {
	if !r.active() {
		return ErrNotConnected
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	if n := r.subs[roomID]; n > 0 {
		r.subs[roomID] = n + 1
		return nil
	}
	channel := ChannelName(roomID)
	if err := r.broker.Subscribe(ctx, channel); err != nil {
		r.log.Error("failed to subscribe", "channel", channel, "error", err)
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	r.subs[roomID] = 1
	r.log.Info("subscribed", "channel", channel)
	return nil
}

// UnsubscribeFromRoom drops one local subscriber for roomID.
func (r *Relay) UnsubscribeFromRoom(ctx context.Context, roomID string) error {
	if !r.active() {
		return ErrNotConnected
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	n := r.subs[roomID]
	switch {
	case n == 0:
		return nil
	case n > 1:
		r.subs[roomID] = n - 1
		return nil
	}

	delete(r.subs, roomID)
	channel := ChannelName(roomID)
	if err := r.broker.Unsubscribe(ctx, channel); err != nil {
		r.log.Error("failed to unsubscribe", "channel", channel, "error", err)
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	r.log.Info("unsubscribed", "channel", channel)
	return nil
}

// Subscribers returns the number of local subscribers of roomID.
func (r *Relay) Subscribers(roomID string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.subs[roomID]
}
