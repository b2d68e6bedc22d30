// Package presence tracks which users are in a room across every gateway
// instance. The registry only knows about local connections; presence is the
// cluster-wide view served by the rooms API.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/mahaj/roomchat/pkg/model"
)

type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type Tracker interface {
	Join(ctx context.Context, s model.Session) error
	Leave(ctx context.Context, s model.Session) error
	Members(ctx context.Context, roomID string) ([]Member, error)
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Username != members[j].Username {
			return members[i].Username < members[j].Username
		}
		return members[i].UserID < members[j].UserID
	})
}

// Memory is a process-local Tracker for single-instance deployments.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]map[string]string)}
}

func (m *Memory) Join(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[s.RoomID]
	if !ok {
		room = make(map[string]string)
		m.rooms[s.RoomID] = room
	}
	room[s.ID] = s.Username
	return nil
}

func (m *Memory) Leave(_ context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[s.RoomID]; ok {
		delete(room, s.ID)
		if len(room) == 0 {
			delete(m.rooms, s.RoomID)
		}
	}
	return nil
}

func (m *Memory) Members(_ context.Context, roomID string) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := make([]Member, 0, len(m.rooms[roomID]))
	for id, name := range m.rooms[roomID] {
		members = append(members, Member{UserID: id, Username: name})
	}
	sortMembers(members)
	return members, nil
}
