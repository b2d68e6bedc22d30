package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// ConnState is the lifecycle of one client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateJoined
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("conn_state(%d)", int32(s))
}

// Client is a middleman between the websocket connection and the registry.
// It is the registry.Conn handle for its connection.
type Client struct {
	gw      *Gateway
	conn    *websocket.Conn
	session model.Session
	log     hclog.Logger

	// Buffered channel of outbound messages.
	send chan []byte

	state     atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
	cleanOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn, session model.Session) *Client {
	c := &Client{
		gw:      gw,
		conn:    conn,
		session: session,
		log:     gw.log.With("user", session.Username, "session", session.ID, "room", session.RoomID),
		send:    make(chan []byte, gw.sendBuffer),
		done:    make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	c.log.Debug("connection state", "from", prev, "to", s)
}

// Send queues payload for the write pump. It never blocks: a client that
// cannot keep up is disconnected.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		c.log.Warn("send buffer full, closing connection")
		c.closeConn()
		return ErrSendBufferFull
	}
}

// closeConn closes the socket; the read pump then runs cleanup.
func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// join registers the connection and announces it to the room.
func (c *Client) join(ctx context.Context) {
	c.gw.registry.Connect(c, c.session, c.session.RoomID)
	c.setState(StateJoined)

	if err := c.gw.relay.SubscribeToRoom(ctx, c.session.RoomID); err != nil {
		c.log.Error("failed to subscribe room", "error", err)
	}
	if err := c.gw.presence.Join(ctx, c.session); err != nil {
		c.log.Warn("failed to record presence", "error", err)
	}
	c.gw.relay.Publish(ctx, c.session.RoomID, model.JoinMessage(c.session))
}

// cleanup runs exactly once when the connection ends. Every step runs even if
// an earlier one fails.
func (c *Client) cleanup(ctx context.Context) {
	c.cleanOnce.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		defer c.gw.untrack(c)

		c.step("registry disconnect", func() error {
			c.gw.registry.Disconnect(c)
			return nil
		})
		c.step("unsubscribe", func() error {
			return c.gw.relay.UnsubscribeFromRoom(ctx, c.session.RoomID)
		})
		c.step("presence leave", func() error {
			return c.gw.presence.Leave(ctx, c.session)
		})
		c.step("publish leave", func() error {
			c.gw.relay.Publish(ctx, c.session.RoomID, model.LeaveMessage(c.session))
			return nil
		})
		c.log.Info("client disconnected")
	})
}

func (c *Client) step(name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("recovered from panic during cleanup", "step", name, "panic", rec)
		}
	}()
	if err := fn(); err != nil {
		c.log.Error("cleanup step failed", "step", name, "error", err)
	}
}

// inbound is the optional JSON form of a client payload.
type inbound struct {
	MessageType model.MessageType `json:"message_type"`
	Content     string            `json:"content"`
}

// toMessage turns a raw client payload into the message to publish. Plain
// text is a chat message; JSON may carry a chat or typing message.
func (c *Client) toMessage(data []byte) (model.Message, bool) {
	var in inbound
	if err := json.Unmarshal(data, &in); err == nil && in.MessageType != "" {
		switch in.MessageType {
		case model.TypeChat, model.TypeTyping:
			return model.NewMessage(c.session, in.MessageType, in.Content), true
		default:
			c.log.Warn("client sent reserved message type, dropping", "type", in.MessageType)
			return model.Message{}, false
		}
	}
	return model.NewMessage(c.session, model.TypeChat, string(data)), true
}

// readPump pumps messages from the websocket connection to the relay.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.cleanup(ctx)
		c.closeConn()
	}()

	c.conn.SetReadLimit(c.gw.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("failed to set read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.setState(StateActive)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("unexpected close", "error", err)
			} else {
				c.log.Debug("read loop ended", "error", err)
			}
			return
		}

		msg, ok := c.toMessage(data)
		if !ok {
			continue
		}
		c.gw.relay.Publish(ctx, c.session.RoomID, msg)
	}
}

// writePump pumps messages from the registry to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
