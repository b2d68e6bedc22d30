package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mahaj/roomchat/pkg/model"
	"github.com/mahaj/roomchat/pkg/rooms"
)

const anonymous = "Anonymous"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS handles websocket requests from the peer on /ws/{room_id}.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	username := r.URL.Query().Get("username")
	if username == "" {
		username = anonymous
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("upgrade failed", "error", err)
		return
	}

	// The request context ends with this handler; the client outlives it.
	ctx := context.WithoutCancel(r.Context())

	if _, err := g.rooms.Get(ctx, roomID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			g.log.Info("rejecting connection to unknown room", "room", roomID, "user", username)
			reject(conn, websocket.ClosePolicyViolation, "Room not found")
			return
		}
		g.log.Error("room lookup failed", "room", roomID, "error", err)
		reject(conn, websocket.CloseInternalServerErr, "Room lookup failed")
		return
	}

	session := model.Session{
		ID:       g.ids.Generate().String(),
		Username: username,
		RoomID:   roomID,
	}
	client := newClient(g, conn, session)
	if !g.track(client) {
		reject(conn, websocket.CloseGoingAway, "Server shutting down")
		return
	}

	client.log.Info("client connected")
	client.join(ctx)

	go client.writePump()
	go client.readPump(ctx)
}

func reject(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

// goingAway tells the peer the server is leaving and closes the socket.
func (c *Client) goingAway() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
		time.Now().Add(writeWait))
	c.closeConn()
}
