// Package config loads gateway settings from flags, environment variables and
// defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BrokerRedis  = "redis"
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"

	StoreMemory = "memory"
	StoreScylla = "scylla"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// NodeID must differ between gateway instances sharing a broker; it seeds
	// session id generation.
	NodeID int64 `mapstructure:"node_id"`

	Broker       string   `mapstructure:"broker"`
	RedisAddr    string   `mapstructure:"redis_addr"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	RoomStore      string   `mapstructure:"room_store"`
	ScyllaHosts    []string `mapstructure:"scylla_hosts"`
	ScyllaKeyspace string   `mapstructure:"scylla_keyspace"`

	Presence    bool     `mapstructure:"presence"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	SendBuffer           int           `mapstructure:"send_buffer"`
	SendTimeout          time.Duration `mapstructure:"send_timeout"`
	MaxMessageSize       int64         `mapstructure:"max_message_size"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("node_id", 1)
	v.SetDefault("broker", BrokerRedis)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("kafka_brokers", []string{"localhost:19092"})
	v.SetDefault("kafka_topic", "chat-rooms")
	v.SetDefault("room_store", StoreMemory)
	v.SetDefault("scylla_hosts", []string{"localhost:9042"})
	v.SetDefault("scylla_keyspace", "chat")
	v.SetDefault("presence", true)
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("send_buffer", 256)
	v.SetDefault("send_timeout", 5*time.Second)
	v.SetDefault("max_message_size", 4096)
	v.SetDefault("broadcast_concurrency", 64)
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// FlagSet returns the command-line flags understood by Load.
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	fs.String("addr", "", "listen address")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fs.Bool("log-json", false, "emit JSON logs")
	fs.Int64("node-id", 0, "unique node number of this instance (0-1023)")
	fs.String("broker", "", "message broker: redis, kafka or memory")
	fs.String("redis-addr", "", "redis address")
	fs.StringSlice("kafka-brokers", nil, "kafka broker addresses")
	fs.String("kafka-topic", "", "kafka topic carrying room traffic")
	fs.String("room-store", "", "room metadata store: memory or scylla")
	fs.StringSlice("scylla-hosts", nil, "scylla hosts")
	fs.String("scylla-keyspace", "", "scylla keyspace")
	fs.StringSlice("cors-origins", nil, "allowed CORS origins")
	fs.SetNormalizeFunc(wordSepNormalizeFunc)
	return fs
}

// wordSepNormalizeFunc maps flag names onto config keys (- to _).
func wordSepNormalizeFunc(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "-", "_"))
}

// Load reads the configuration. fs may be nil; only flags that were set on
// the command line override the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.ScyllaHosts = splitList(cfg.ScyllaHosts)
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList flattens comma separated entries; env values arrive as one string.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerRedis, BrokerKafka, BrokerMemory:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	switch c.RoomStore {
	case StoreMemory, StoreScylla:
	default:
		return fmt.Errorf("unknown room store %q", c.RoomStore)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node_id %d out of range 0-1023", c.NodeID)
	}
	if c.Broker == BrokerKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka broker selected but kafka_brokers is empty")
	}
	if c.RoomStore == StoreScylla && len(c.ScyllaHosts) == 0 {
		return fmt.Errorf("scylla room store selected but scylla_hosts is empty")
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.BroadcastConcurrency <= 0 {
		c.BroadcastConcurrency = 64
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	return nil
}
