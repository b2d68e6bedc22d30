package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/roomchat/pkg/model"
)

func main() {
	log := hclog.New(&hclog.LoggerOptions{Name: "verify-api"})

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = "http://localhost:8000"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	// 1. Create a room
	reqBody, _ := json.Marshal(map[string]string{"name": "verify-" + time.Now().UTC().Format("150405")})
	resp, err := client.Post(apiAddr+"/api/rooms", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Error("create request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		log.Error("create failed", "status", resp.Status, "body", string(body))
		os.Exit(1)
	}

	var created model.Room
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Error("bad create response", "error", err)
		os.Exit(1)
	}
	log.Info("room created", "id", created.ID, "name", created.Name)

	// 2. It must show up in the listing
	resp, err = client.Get(apiAddr + "/api/rooms")
	if err != nil {
		log.Error("list request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var list []model.Room
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		log.Error("bad list response", "error", err)
		os.Exit(1)
	}
	for _, r := range list {
		if r.ID == created.ID {
			log.Info("room listed", "rooms", len(list))
			return
		}
	}
	log.Error("created room missing from listing", "id", created.ID)
	os.Exit(1)
}
