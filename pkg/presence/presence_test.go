package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/roomchat/pkg/model"
)

func exercise(t *testing.T, tr Tracker, room string) {
	t.Helper()
	ctx := context.Background()
	alice := model.Session{ID: "a-1", Username: "alice", RoomID: room}
	bob := model.Session{ID: "b-1", Username: "bob", RoomID: room}

	require.NoError(t, tr.Join(ctx, bob))
	require.NoError(t, tr.Join(ctx, alice))

	members, err := tr.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []Member{{UserID: "a-1", Username: "alice"}, {UserID: "b-1", Username: "bob"}}, members)

	require.NoError(t, tr.Leave(ctx, bob))
	require.NoError(t, tr.Leave(ctx, bob))
	members, err = tr.Members(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []Member{{UserID: "a-1", Username: "alice"}}, members)

	require.NoError(t, tr.Leave(ctx, alice))
	members, err = tr.Members(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryTracker(t *testing.T) {
	exercise(t, NewMemory(), "general")
}

func TestRedisTracker(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	room := "presence-test-" + time.Now().Format("150405.000000")
	tr := NewRedis(client)
	defer client.Del(context.Background(), tr.key(room))

	exercise(t, tr, room)
}
