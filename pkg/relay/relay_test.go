package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/roomchat/pkg/model"
)

// recordingBroker is a Broker whose events are injected by the test.
type recordingBroker struct {
	mu          sync.Mutex
	calls       []string
	published   map[string][][]byte
	connectErr  error
	publishErr  error
	events      chan Event
	subscribes  int
	unsubscribe int
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{
		published: make(map[string][][]byte),
		events:    make(chan Event, 16),
	}
}

func (b *recordingBroker) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *recordingBroker) history() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *recordingBroker) Connect(context.Context) error {
	b.record("connect")
	return b.connectErr
}

func (b *recordingBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.record("publish " + channel)
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	b.published[channel] = append(b.published[channel], payload)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroker) Subscribe(_ context.Context, channel string) error {
	b.record("subscribe " + channel)
	b.mu.Lock()
	b.subscribes++
	b.mu.Unlock()
	return nil
}

func (b *recordingBroker) Unsubscribe(_ context.Context, channel string) error {
	b.record("unsubscribe " + channel)
	b.mu.Lock()
	b.unsubscribe++
	b.mu.Unlock()
	return nil
}

func (b *recordingBroker) Events() <-chan Event { return b.events }

func (b *recordingBroker) CloseSubscription() error {
	b.record("close-subscription")
	return nil
}

func (b *recordingBroker) Close() error {
	b.record("close")
	return nil
}

type collector struct {
	mu   sync.Mutex
	got  []model.Message
	room []string
	seen chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 64)}
}

func (c *collector) HandleRoomMessage(_ context.Context, roomID string, msg model.Message) {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.room = append(c.room, roomID)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
}

func (c *collector) messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.got...)
}

func payload(t *testing.T, room, content string) []byte {
	t.Helper()
	data, err := model.NewMessage(model.Session{ID: "u", Username: "alice", RoomID: room}, model.TypeChat, content).Encode()
	require.NoError(t, err)
	return data
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "room:general", ChannelName("general"))

	room, ok := RoomFromChannel("room:general")
	assert.True(t, ok)
	assert.Equal(t, "general", room)

	room, ok = RoomFromChannel("room:a:b")
	assert.True(t, ok)
	assert.Equal(t, "a:b", room)

	_, ok = RoomFromChannel("general")
	assert.False(t, ok)
}

func TestConnectFailure(t *testing.T) {
	b := newRecordingBroker()
	b.connectErr = errors.New("connection refused")
	r := New(b, nil, nil)

	err := r.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateUninitialized, r.State())

	assert.ErrorIs(t, r.StartListening(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, r.SubscribeToRoom(context.Background(), "general"), ErrNotConnected)
}

func TestConnectTwice(t *testing.T) {
	r := New(newRecordingBroker(), nil, nil)
	require.NoError(t, r.Connect(context.Background()))
	assert.ErrorIs(t, r.Connect(context.Background()), ErrConnected)
}

func TestStateMachine(t *testing.T) {
	r := New(newRecordingBroker(), nil, nil)
	assert.Equal(t, StateUninitialized, r.State())

	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, StateConnected, r.State())

	require.NoError(t, r.StartListening(context.Background()))
	assert.Equal(t, StateListening, r.State())

	require.NoError(t, r.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, r.State())
	assert.Equal(t, "disconnected", r.State().String())
}

func TestDisconnectWithoutListening(t *testing.T) {
	b := newRecordingBroker()
	r := New(b, nil, nil)
	require.NoError(t, r.Disconnect(context.Background()))

	r = New(b, nil, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.Disconnect(context.Background()))
	assert.Equal(t, []string{"connect", "close-subscription", "close"}, b.history())
}

func TestDisconnectStopsListenerBeforeClosingBroker(t *testing.T) {
	b := newRecordingBroker()
	started := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, roomID string, msg model.Message) {
		close(started)
		<-ctx.Done()
		b.record("handler-returned")
	})
	r := New(b, handler, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))

	b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: payload(t, "general", "hi")}
	<-started

	require.NoError(t, r.Disconnect(context.Background()))
	assert.Equal(t, []string{"connect", "handler-returned", "close-subscription", "close"}, b.history())
}

func TestListenerDispatchesAndSkips(t *testing.T) {
	b := newRecordingBroker()
	c := newCollector()
	r := New(b, c, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))
	defer r.Disconnect(context.Background())

	b.events <- Event{Kind: EventSubscription, Channel: "room:general"}
	b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: []byte("{not json")}
	b.events <- Event{Kind: EventMessage, Channel: "nochannel", Payload: payload(t, "x", "lost")}
	b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: payload(t, "general", "hello")}

	c.wait(t, 1)
	msgs := c.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, []string{"general"}, c.room)
}

func TestListenerSurvivesHandlerPanic(t *testing.T) {
	b := newRecordingBroker()
	c := newCollector()
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, roomID string, msg model.Message) {
		calls++
		if calls == 1 {
			panic("handler blew up")
		}
		c.HandleRoomMessage(ctx, roomID, msg)
	})
	r := New(b, handler, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))
	defer r.Disconnect(context.Background())

	b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: payload(t, "general", "first")}
	b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: payload(t, "general", "second")}

	c.wait(t, 1)
	assert.Equal(t, "second", c.messages()[0].Content)
}

func TestStartListeningTwiceIsNoop(t *testing.T) {
	b := newRecordingBroker()
	c := newCollector()
	r := New(b, c, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))
	first := r.listener
	require.NoError(t, r.StartListening(context.Background()))
	assert.Equal(t, first, r.listener)
	defer r.Disconnect(context.Background())

	for i := 0; i < 5; i++ {
		b.events <- Event{Kind: EventMessage, Channel: "room:general", Payload: payload(t, "general", "x")}
	}
	c.wait(t, 5)
	assert.Len(t, c.messages(), 5)
}

func TestSetHandler(t *testing.T) {
	b := newRecordingBroker()
	r := New(b, nil, nil)
	require.NoError(t, r.Connect(context.Background()))
	require.NoError(t, r.StartListening(context.Background()))
	defer r.Disconnect(context.Background())

	c := newCollector()
	r.SetHandler(c)
	b.events <- Event{Kind: EventMessage, Channel: "room:tech", Payload: payload(t, "tech", "late handler")}
	c.wait(t, 1)
	assert.Equal(t, "late handler", c.messages()[0].Content)
}

func TestSubscriptionsAreReferenceCounted(t *testing.T) {
	b := newRecordingBroker()
	r := New(b, nil, nil)
	ctx := context.Background()
	require.NoError(t, r.Connect(ctx))

	for i := 0; i < 3; i++ {
		require.NoError(t, r.SubscribeToRoom(ctx, "general"))
	}
	assert.Equal(t, 3, r.Subscribers("general"))
	assert.Equal(t, 1, b.subscribes)

	require.NoError(t, r.UnsubscribeFromRoom(ctx, "general"))
	require.NoError(t, r.UnsubscribeFromRoom(ctx, "general"))
	assert.Equal(t, 0, b.unsubscribe)

	require.NoError(t, r.UnsubscribeFromRoom(ctx, "general"))
	assert.Equal(t, 1, b.unsubscribe)
	assert.Equal(t, 0, r.Subscribers("general"))

	// Extra unsubscribes are ignored.
	require.NoError(t, r.UnsubscribeFromRoom(ctx, "general"))
	assert.Equal(t, 1, b.unsubscribe)

	require.NoError(t, r.SubscribeToRoom(ctx, "general"))
	assert.Equal(t, 2, b.subscribes)
}

func TestPublishIsFireAndForget(t *testing.T) {
	b := newRecordingBroker()
	r := New(b, nil, nil)
	msg := model.NewMessage(model.Session{ID: "u", Username: "alice", RoomID: "general"}, model.TypeChat, "hi")

	// Not connected: dropped without touching the broker.
	r.Publish(context.Background(), "general", msg)
	assert.Empty(t, b.history())

	require.NoError(t, r.Connect(context.Background()))
	r.Publish(context.Background(), "general", msg)
	require.Len(t, b.published["room:general"], 1)
	decoded, err := model.DecodeMessage(b.published["room:general"][0])
	require.NoError(t, err)
	assert.Equal(t, "hi", decoded.Content)

	b.publishErr = errors.New("broker down")
	assert.NotPanics(t, func() { r.Publish(context.Background(), "general", msg) })
}

func TestRelaysShareMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	inA, inB := newCollector(), newCollector()
	a := New(NewMemoryBroker(bus), inA, nil)
	b := New(NewMemoryBroker(bus), inB, nil)
	for _, r := range []*Relay{a, b} {
		require.NoError(t, r.Connect(ctx))
		require.NoError(t, r.StartListening(ctx))
		defer r.Disconnect(ctx)
	}

	require.NoError(t, a.SubscribeToRoom(ctx, "general"))
	require.NoError(t, b.SubscribeToRoom(ctx, "general"))
	require.NoError(t, b.SubscribeToRoom(ctx, "tech"))

	msg := model.NewMessage(model.Session{ID: "u", Username: "alice", RoomID: "general"}, model.TypeChat, "across")
	a.Publish(ctx, "general", msg)
	inA.wait(t, 1)
	inB.wait(t, 1)

	tech := model.NewMessage(model.Session{ID: "u", Username: "alice", RoomID: "tech"}, model.TypeChat, "tech only")
	a.Publish(ctx, "tech", tech)
	inB.wait(t, 1)
	assert.Len(t, inA.messages(), 1, "relay A is not subscribed to tech")

	require.NoError(t, b.UnsubscribeFromRoom(ctx, "general"))
	a.Publish(ctx, "general", msg)
	inA.wait(t, 1)
	assert.Len(t, inB.messages(), 2)
}
