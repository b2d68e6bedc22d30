// Package gateway accepts websocket clients, joins them to rooms and serves
// the rooms HTTP API. Messages from clients go out through the relay; messages
// from the relay reach clients through the connection registry.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/logging"
	"github.com/mahaj/roomchat/pkg/model"
	"github.com/mahaj/roomchat/pkg/presence"
	"github.com/mahaj/roomchat/pkg/registry"
	"github.com/mahaj/roomchat/pkg/rooms"
	"github.com/mahaj/roomchat/pkg/snowflake"
)

const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 4096
)

// Relay is the part of relay.Relay the gateway drives.
type Relay interface {
	Publish(ctx context.Context, roomID string, msg model.Message)
	SubscribeToRoom(ctx context.Context, roomID string) error
	UnsubscribeFromRoom(ctx context.Context, roomID string) error
}

type Options struct {
	Registry *registry.Registry
	Relay    Relay
	Rooms    rooms.Store
	// Presence defaults to an in-process tracker.
	Presence presence.Tracker
	IDs      *snowflake.Node
	Logger   hclog.Logger

	SendBuffer     int
	MaxMessageSize int64
	CORSOrigins    []string
}

type Gateway struct {
	registry *registry.Registry
	relay    Relay
	rooms    rooms.Store
	presence presence.Tracker
	ids      *snowflake.Node
	log      hclog.Logger

	sendBuffer     int
	maxMessageSize int64
	corsOrigins    []string

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil || opts.Relay == nil || opts.Rooms == nil || opts.IDs == nil {
		return nil, errors.New("gateway: registry, relay, rooms and ids are required")
	}
	g := &Gateway{
		registry:       opts.Registry,
		relay:          opts.Relay,
		rooms:          opts.Rooms,
		presence:       opts.Presence,
		ids:            opts.IDs,
		log:            logging.OrDiscard(opts.Logger).Named("gateway"),
		sendBuffer:     opts.SendBuffer,
		maxMessageSize: opts.MaxMessageSize,
		corsOrigins:    opts.CORSOrigins,
		clients:        make(map[*Client]struct{}),
	}
	if g.presence == nil {
		g.presence = presence.NewMemory()
	}
	if g.sendBuffer <= 0 {
		g.sendBuffer = defaultSendBuffer
	}
	if g.maxMessageSize <= 0 {
		g.maxMessageSize = defaultMaxMessageSize
	}
	return g, nil
}

// Router wires the websocket endpoint and the rooms API.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{room_id}", g.ServeWS).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(g.corsMiddleware)
	api.HandleFunc("/", g.health).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms", g.listRooms).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms", g.createRoom).Methods(http.MethodPost)
	api.HandleFunc("/api/rooms/{room_id}/users", g.roomUsers).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// track registers a live client. It reports false once shutdown has begun.
func (g *Gateway) track(c *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.clients[c] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *Client) {
	g.mu.Lock()
	_, ok := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if ok {
		g.wg.Done()
	}
}

// Clients returns the number of live client connections.
func (g *Gateway) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every client socket and waits for their cleanup, so leave
// messages are published while the relay is still up. New clients are
// refused once it starts.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	g.log.Info("closing client connections", "count", len(clients))
	for _, c := range clients {
		c.goingAway()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
