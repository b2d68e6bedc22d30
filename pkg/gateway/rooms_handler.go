package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mahaj/roomchat/pkg/presence"
	"github.com/mahaj/roomchat/pkg/rooms"
)

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Warn("failed to write response", "error", err)
	}
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, healthResponse{Status: "online", Message: "Chat server is running"})
}

// listRooms returns every room with the member count of this instance.
func (g *Gateway) listRooms(w http.ResponseWriter, r *http.Request) {
	list, err := g.rooms.List(r.Context())
	if err != nil {
		g.log.Error("list rooms failed", "error", err)
		g.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list rooms"})
		return
	}
	counts := g.registry.AllRooms()
	for i := range list {
		list[i].MemberCount = counts[list[i].ID]
	}
	g.writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	room, err := g.rooms.Create(r.Context(), req.Name)
	if errors.Is(err, rooms.ErrInvalidName) {
		g.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		g.log.Error("create room failed", "error", err)
		g.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create room"})
		return
	}
	g.log.Info("room created", "room", room.ID, "name", room.Name)
	g.writeJSON(w, http.StatusCreated, room)
}

// roomUsers lists who is in a room according to the presence tracker.
func (g *Gateway) roomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]
	if _, err := g.rooms.Get(r.Context(), roomID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			g.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		g.log.Error("room lookup failed", "room", roomID, "error", err)
		g.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load room"})
		return
	}

	members, err := g.presence.Members(r.Context(), roomID)
	if err != nil {
		g.log.Error("presence lookup failed", "room", roomID, "error", err)
		g.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load members"})
		return
	}
	if members == nil {
		members = []presence.Member{}
	}
	g.writeJSON(w, http.StatusOK, members)
}
