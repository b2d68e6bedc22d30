package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/mahaj/roomchat/pkg/model"
)

func listRooms(log hclog.Logger, apiAddr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(apiAddr + "/api/rooms")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list rooms: %s", resp.Status)
	}

	var list []model.Room
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return err
	}
	log.Debug("rooms fetched", "count", len(list))
	for _, r := range list {
		fmt.Printf("%-38s %-20s %d online\n", r.ID, r.Name, r.MemberCount)
	}
	return nil
}

func render(msg model.Message) {
	switch msg.MessageType {
	case model.TypeTyping:
		fmt.Printf("\r%s is typing...      \n> ", msg.Username)
	case model.TypeJoin, model.TypeLeave, model.TypeSystem:
		fmt.Printf("\r* %s\n> ", msg.Content)
	default:
		fmt.Printf("\r[%s] %s: %s\n> ", msg.Timestamp.Local().Format("15:04:05"), msg.Username, msg.Content)
	}
}

func main() {
	fs := pflag.NewFlagSet("client", pflag.ExitOnError)
	serverAddr := fs.String("addr", "localhost:8000", "gateway address")
	room := fs.String("room", "general", "room id")
	username := fs.String("username", "", "display name")
	list := fs.Bool("list", false, "list rooms and exit")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	_ = fs.Parse(os.Args[1:])

	level := hclog.Info
	if *verbose {
		level = hclog.Debug
	}
	log := hclog.New(&hclog.LoggerOptions{Name: "client", Level: level})

	if *list {
		if err := listRooms(log, "http://"+*serverAddr); err != nil {
			log.Error("failed to list rooms", "error", err)
			os.Exit(1)
		}
		return
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws/" + *room}
	if *username != "" {
		q := u.Query()
		q.Set("username", *username)
		u.RawQuery = q.Encode()
	}
	log.Info("connecting", "url", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					log.Info("connection closed", "code", ce.Code, "reason", ce.Text)
				} else {
					log.Info("read ended", "error", err)
				}
				return
			}

			msg, err := model.DecodeMessage(data)
			if err != nil {
				log.Debug("undecodable frame", "error", err, "raw", string(data))
				continue
			}
			render(msg)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch text {
			case "":
				fmt.Print("> ")
				continue
			case "/quit":
				close(quit)
				return
			case "/typing":
				payload, _ := json.Marshal(map[string]string{"message_type": string(model.TypeTyping)})
				if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Error("write failed", "error", err)
					return
				}
				fmt.Print("> ")
				continue
			}

			// The gateway wraps raw text into a chat message.
			if err := c.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				log.Error("write failed", "error", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
		return
	case <-interrupt:
	case <-quit:
	}

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Error("write close failed", "error", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
