package model

import "time"

// Room is room metadata. MemberCount is never stored; it is filled from the
// connection registry when rooms are listed.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
}

// Session is the identity bound to one live connection for its lifetime.
type Session struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RoomID   string `json:"current_room"`
}
