package main

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/config"
	"github.com/mahaj/roomchat/pkg/db"
	"github.com/mahaj/roomchat/pkg/rooms"
)

func main() {
	log := hclog.New(&hclog.LoggerOptions{Name: "create-rooms-table"})

	cfg, err := config.Load(nil)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.ScyllaKeyspace, 1); err != nil {
		log.Error("failed to create keyspace", "error", err)
		os.Exit(1)
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Error("failed to connect to ScyllaDB", "error", err)
		os.Exit(1)
	}
	store := rooms.NewScyllaStore(session)
	defer store.Close()

	if err := store.EnsureSchema(context.Background(), rooms.Defaults...); err != nil {
		log.Error("failed to create rooms table", "error", err)
		os.Exit(1)
	}
	log.Info("rooms table ready", "keyspace", cfg.ScyllaKeyspace, "seeded", len(rooms.Defaults))
}
