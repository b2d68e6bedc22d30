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
	log := hclog.New(&hclog.LoggerOptions{Name: "drop-rooms-table"})

	cfg, err := config.Load(nil)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Error("failed to connect to ScyllaDB", "error", err)
		os.Exit(1)
	}
	store := rooms.NewScyllaStore(session)
	defer store.Close()

	log.Info("dropping table rooms", "keyspace", cfg.ScyllaKeyspace)
	if err := store.DropSchema(context.Background()); err != nil {
		log.Error("failed to drop table", "error", err)
		os.Exit(1)
	}
	log.Info("table dropped")
}
