package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/roomchat/pkg/model"
)

// Redis keeps one hash per room, user id -> username.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "presence:room:"}
}

func (r *Redis) key(roomID string) string {
	return r.prefix + roomID
}

func (r *Redis) Join(ctx context.Context, s model.Session) error {
	if err := r.client.HSet(ctx, r.key(s.RoomID), s.ID, s.Username).Err(); err != nil {
		return fmt.Errorf("presence join %s: %w", s.RoomID, err)
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, s model.Session) error {
	if err := r.client.HDel(ctx, r.key(s.RoomID), s.ID).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", s.RoomID, err)
	}
	return nil
}

func (r *Redis) Members(ctx context.Context, roomID string) ([]Member, error) {
	entries, err := r.client.HGetAll(ctx, r.key(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", roomID, err)
	}
	members := make([]Member, 0, len(entries))
	for id, name := range entries {
		members = append(members, Member{UserID: id, Username: name})
	}
	sortMembers(members)
	return members, nil
}
