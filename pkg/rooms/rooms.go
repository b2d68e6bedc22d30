// Package rooms stores room metadata. Member counts are not stored here; the
// API layer merges them in from the connection registry.
package rooms

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/roomchat/pkg/model"
)

var (
	ErrNotFound    = errors.New("room not found")
	ErrInvalidName = errors.New("room name must not be empty")
)

type Store interface {
	List(ctx context.Context) ([]model.Room, error)
	Get(ctx context.Context, id string) (model.Room, error)
	Create(ctx context.Context, name string) (model.Room, error)
	Close() error
}

// Defaults are the rooms every deployment starts with.
var Defaults = []model.Room{
	{ID: "general", Name: "General"},
	{ID: "random", Name: "Random"},
	{ID: "tech", Name: "Tech Talk"},
}

func newRoom(name string) (model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Room{}, ErrInvalidName
	}
	return model.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func sortRooms(rooms []model.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
}

type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]model.Room
}

// NewMemoryStore returns a store seeded with the given rooms.
func NewMemoryStore(seed ...model.Room) *MemoryStore {
	s := &MemoryStore{rooms: make(map[string]model.Room, len(seed))}
	now := time.Now().UTC()
	for _, r := range seed {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		s.rooms[r.ID] = r
	}
	return s
}

func (s *MemoryStore) List(context.Context) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sortRooms(out)
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return model.Room{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Create(_ context.Context, name string) (model.Room, error) {
	r, err := newRoom(name)
	if err != nil {
		return model.Room{}, err
	}
	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()
	return r, nil
}

func (s *MemoryStore) Close() error { return nil }
