package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, BrokerRedis, cfg.Broker)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, StoreMemory, cfg.RoomStore)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.True(t, cfg.Presence)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BROKER", "kafka")
	t.Setenv("SEND_TIMEOUT", "250ms")
	t.Setenv("PRESENCE", "false")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, BrokerKafka, cfg.Broker)
	assert.Equal(t, 250*time.Millisecond, cfg.SendTimeout)
	assert.False(t, cfg.Presence)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("NODE_ID", "3")

	fs := FlagSet()
	require.NoError(t, fs.Parse([]string{"--addr", ":9100", "--broker", "memory"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, BrokerMemory, cfg.Broker)
	assert.Equal(t, int64(3), cfg.NodeID, "unset flags must not mask the environment")
}

func TestValidate(t *testing.T) {
	t.Setenv("BROKER", "rabbit")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "unknown broker")

	t.Setenv("BROKER", "memory")
	t.Setenv("ROOM_STORE", "postgres")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "unknown room store")

	t.Setenv("ROOM_STORE", "memory")
	t.Setenv("NODE_ID", "5000")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "node_id")
}
