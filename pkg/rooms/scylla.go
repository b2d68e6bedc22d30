package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/roomchat/pkg/db"
	"github.com/mahaj/roomchat/pkg/model"
)

const roomsTable = `CREATE TABLE IF NOT EXISTS rooms (
	id text PRIMARY KEY,
	name text,
	created_at timestamp
)`

// ScyllaStore keeps rooms in a Scylla/Cassandra table so every gateway
// instance sees the same room list.
type ScyllaStore struct {
	session *db.Session
}

func NewScyllaStore(session *db.Session) *ScyllaStore {
	return &ScyllaStore{session: session}
}

// EnsureSchema creates the rooms table and inserts any missing seed rooms.
func (s *ScyllaStore) EnsureSchema(ctx context.Context, seed ...model.Room) error {
	if err := s.session.Query(roomsTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create rooms table: %w", err)
	}
	now := time.Now().UTC()
	for _, r := range seed {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		err := s.session.Query(
			`INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?) IF NOT EXISTS`,
			r.ID, r.Name, r.CreatedAt,
		).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("seed room %s: %w", r.ID, err)
		}
	}
	return nil
}

// DropSchema removes the rooms table.
func (s *ScyllaStore) DropSchema(ctx context.Context) error {
	if err := s.session.Query(`DROP TABLE IF EXISTS rooms`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("drop rooms table: %w", err)
	}
	return nil
}

func (s *ScyllaStore) List(ctx context.Context) ([]model.Room, error) {
	iter := s.session.Query(`SELECT id, name, created_at FROM rooms`).WithContext(ctx).Iter()

	var (
		out []model.Room
		r   model.Room
	)
	for iter.Scan(&r.ID, &r.Name, &r.CreatedAt) {
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sortRooms(out)
	return out, nil
}

func (s *ScyllaStore) Get(ctx context.Context, id string) (model.Room, error) {
	var r model.Room
	err := s.session.Query(`SELECT id, name, created_at FROM rooms WHERE id = ?`, id).
		WithContext(ctx).
		Scan(&r.ID, &r.Name, &r.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Room{}, ErrNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("get room %s: %w", id, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *ScyllaStore) Create(ctx context.Context, name string) (model.Room, error) {
	r, err := newRoom(name)
	if err != nil {
		return model.Room{}, err
	}
	// Scylla timestamps have millisecond precision.
	r.CreatedAt = r.CreatedAt.Truncate(time.Millisecond)
	err = s.session.Query(
		`INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)`,
		r.ID, r.Name, r.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Room{}, fmt.Errorf("create room: %w", err)
	}
	return r, nil
}

func (s *ScyllaStore) Close() error {
	s.session.Close()
	return nil
}
