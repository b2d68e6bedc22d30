// Package registry is the authoritative per-process view of which live
// connections exist, which session each belongs to and which room it is in.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/roomchat/pkg/logging"
	"github.com/mahaj/roomchat/pkg/model"
)

// Conn is a live transport-level connection. Implementations must be usable as
// map keys (pointer types) and safe for concurrent Send calls.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
}

var errPanicked = errors.New("send panicked")

type Options struct {
	// Concurrency bounds the number of in-flight deliveries per broadcast.
	Concurrency int
	// SendTimeout bounds a single delivery attempt. Zero means no limit.
	SendTimeout time.Duration
	Logger      hclog.Logger
}

type room struct {
	conns map[Conn]struct{}
	// user id -> number of live connections carrying it
	members map[string]int
}

type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[Conn]model.Session

	concurrency int
	sendTimeout time.Duration
	log         hclog.Logger
}

func New(opts Options) *Registry {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 64
	}
	return &Registry{
		rooms:       make(map[string]*room),
		sessions:    make(map[Conn]model.Session),
		concurrency: opts.Concurrency,
		sendTimeout: opts.SendTimeout,
		log:         logging.OrDiscard(opts.Logger).Named("registry"),
	}
}

// Connect registers conn in roomID under the given session. The session's room
// is bound to roomID here and never changes afterwards.
func (r *Registry) Connect(conn Conn, session model.Session, roomID string) {
	session.RoomID = roomID

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[conn]; ok {
		r.log.Warn("connection already registered, ignoring", "user", existing.Username, "room", existing.RoomID)
		return
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{
			conns:   make(map[Conn]struct{}),
			members: make(map[string]int),
		}
		r.rooms[roomID] = rm
	}
	rm.conns[conn] = struct{}{}
	rm.members[session.ID]++
	r.sessions[conn] = session

	r.log.Info("connection registered", "user", session.Username, "room", roomID, "members", len(rm.members))
}

// Disconnect removes conn and its session. Unknown connections are ignored.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[conn]
	if !ok {
		return
	}

	if rm, ok := r.rooms[session.RoomID]; ok {
		if _, in := rm.conns[conn]; in {
			delete(rm.conns, conn)
			if rm.members[session.ID]--; rm.members[session.ID] <= 0 {
				delete(rm.members, session.ID)
			}
		}
		if len(rm.conns) == 0 {
			delete(r.rooms, session.RoomID)
		}
	}
	delete(r.sessions, conn)

	r.log.Info("connection removed", "user", session.Username, "room", session.RoomID)
}

// MemberCount returns the number of distinct users in roomID.
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}

// AllRooms returns a snapshot of member counts for every tracked room.
func (r *Registry) AllRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for id, rm := range r.rooms {
		counts[id] = len(rm.members)
	}
	return counts
}

func (r *Registry) SessionOf(conn Conn) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[conn]
	return s, ok
}

// connsIn snapshots the connections of roomID.
func (r *Registry) connsIn(roomID string) ([]Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	conns := make([]Conn, 0, len(rm.conns))
	for c := range rm.conns {
		conns = append(conns, c)
	}
	return conns, true
}

// BroadcastReport summarizes one broadcast.
type BroadcastReport struct {
	RoomID    string
	Missing   bool
	Delivered int
	Failed    []Conn
}

// BroadcastToRoom delivers msg to every connection currently in roomID. Each
// delivery runs independently; connections whose delivery fails are
// disconnected once the sweep is over.
func (r *Registry) BroadcastToRoom(ctx context.Context, roomID string, msg model.Message) BroadcastReport {
	report := BroadcastReport{RoomID: roomID}

	conns, ok := r.connsIn(roomID)
	if !ok {
		r.log.Warn("broadcast to room without local connections", "room", roomID)
		report.Missing = true
		return report
	}

	payload, err := msg.Encode()
	if err != nil {
		r.log.Error("failed to encode message", "room", roomID, "error", err)
		return report
	}

	var (
		mu     sync.Mutex
		failed []Conn
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			if err := r.deliver(ctx, c, payload); err != nil {
				r.log.Debug("delivery failed", "room", roomID, "error", err)
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range failed {
		r.Disconnect(c)
	}

	report.Delivered = len(conns) - len(failed)
	report.Failed = failed
	if len(failed) > 0 {
		r.log.Warn("removed connections after failed delivery", "room", roomID, "failed", len(failed))
	}
	return report
}

func (r *Registry) deliver(ctx context.Context, c Conn, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered from panic in send", "panic", rec)
			err = errPanicked
		}
	}()

	if r.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
	}
	return c.Send(ctx, payload)
}

// HandleRoomMessage lets the registry serve as the relay's inbound handler.
func (r *Registry) HandleRoomMessage(ctx context.Context, roomID string, msg model.Message) {
	r.BroadcastToRoom(ctx, roomID, msg)
}
