package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/config"
	"github.com/mahaj/roomchat/pkg/db"
	"github.com/mahaj/roomchat/pkg/gateway"
	"github.com/mahaj/roomchat/pkg/logging"
	"github.com/mahaj/roomchat/pkg/presence"
	"github.com/mahaj/roomchat/pkg/registry"
	"github.com/mahaj/roomchat/pkg/relay"
	"github.com/mahaj/roomchat/pkg/rooms"
	"github.com/mahaj/roomchat/pkg/snowflake"
)

func main() {
	fs := config.FlagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Options{Name: "roomchat", Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err := run(cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func newBroker(cfg *config.Config, logger hclog.Logger) relay.Broker {
	switch cfg.Broker {
	case config.BrokerKafka:
		return relay.NewKafkaBroker(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	case config.BrokerMemory:
		return relay.NewMemoryBroker(relay.NewMemoryBus())
	default:
		return relay.NewRedisBroker(cfg.RedisAddr)
	}
}

func newRoomStore(ctx context.Context, cfg *config.Config) (rooms.Store, error) {
	if cfg.RoomStore != config.StoreScylla {
		return rooms.NewMemoryStore(rooms.Defaults...), nil
	}
	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace, 1); err != nil {
		return nil, err
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		return nil, err
	}
	store := rooms.NewScyllaStore(session)
	if err := store.EnsureSchema(ctx, rooms.Defaults...); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func run(cfg *config.Config, logger hclog.Logger) error {
	ctx := context.Background()

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}

	reg := registry.New(registry.Options{
		Concurrency: cfg.BroadcastConcurrency,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	})

	broker := newBroker(cfg, logger)
	rl := relay.New(broker, reg, logger)
	if err := rl.Connect(ctx); err != nil {
		return err
	}
	if err := rl.StartListening(ctx); err != nil {
		return err
	}

	store, err := newRoomStore(ctx, cfg)
	if err != nil {
		_ = rl.Disconnect(ctx)
		return fmt.Errorf("room store: %w", err)
	}

	var tracker presence.Tracker
	if rb, ok := broker.(*relay.RedisBroker); ok && cfg.Presence {
		tracker = presence.NewRedis(rb.Client())
	}

	gw, err := gateway.New(gateway.Options{
		Registry:       reg,
		Relay:          rl,
		Rooms:          store,
		Presence:       tracker,
		IDs:            ids,
		Logger:         logger,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr, "broker", cfg.Broker, "room_store", cfg.RoomStore, "node", cfg.NodeID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	// One operation keeps the order: stop accepting, drop clients so their
	// leave messages still go out, then tear down the relay and the store.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"gateway": func(ctx context.Context) error {
			logger.Info("graceful shutdown initiated")
			var errs []error
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
			if err := gw.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close clients: %w", err))
			}
			if err := rl.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("relay disconnect: %w", err))
			}
			if err := store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("room store close: %w", err))
			}
			return errors.Join(errs...)
		},
	})

	code := <-wait
	logger.Info("gateway exited", "code", code)
	if code != 0 {
		return fmt.Errorf("shutdown exited with code %d", code)
	}
	return nil
}
