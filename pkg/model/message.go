package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type MessageType string

const (
	TypeChat   MessageType = "chat"
	TypeJoin   MessageType = "join"
	TypeLeave  MessageType = "leave"
	TypeTyping MessageType = "typing"
	TypeSystem MessageType = "system"
)

// ErrInvalidMessage is returned when a payload cannot be decoded into a Message.
var ErrInvalidMessage = errors.New("invalid message")

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeChat, TypeJoin, TypeLeave, TypeTyping, TypeSystem:
		return true
	}
	return false
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: message_type: %v", ErrInvalidMessage, err)
	}
	mt := MessageType(s)
	if !mt.Valid() {
		return fmt.Errorf("%w: unknown message_type %q", ErrInvalidMessage, s)
	}
	*t = mt
	return nil
}

// Message is the wire unit exchanged between clients, gateways and the broker.
type Message struct {
	UserID      string      `json:"user_id"`
	Username    string      `json:"username"`
	RoomID      string      `json:"room_id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	Timestamp   Timestamp   `json:"timestamp"`
}

// NewMessage builds a message stamped with the current UTC time.
func NewMessage(s Session, typ MessageType, content string) Message {
	return Message{
		UserID:      s.ID,
		Username:    s.Username,
		RoomID:      s.RoomID,
		Content:     content,
		MessageType: typ,
		Timestamp:   Now(),
	}
}

// JoinMessage announces that the session entered its room.
func JoinMessage(s Session) Message {
	return NewMessage(s, TypeJoin, s.Username+" joined the room")
}

// LeaveMessage announces that the session left its room.
func LeaveMessage(s Session) Message {
	return NewMessage(s, TypeLeave, s.Username+" left the room")
}

// Encode serializes the message to its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire payload. Missing message_type defaults to chat and a
// missing timestamp defaults to now, everything else must be present.
func DecodeMessage(data []byte) (Message, error) {
	var raw struct {
		UserID      *string     `json:"user_id"`
		Username    *string     `json:"username"`
		RoomID      *string     `json:"room_id"`
		Content     *string     `json:"content"`
		MessageType MessageType `json:"message_type"`
		Timestamp   *Timestamp  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var missing []string
	if raw.UserID == nil {
		missing = append(missing, "user_id")
	}
	if raw.Username == nil {
		missing = append(missing, "username")
	}
	if raw.RoomID == nil {
		missing = append(missing, "room_id")
	}
	if raw.Content == nil {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return Message{}, fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}

	msg := Message{
		UserID:      *raw.UserID,
		Username:    *raw.Username,
		RoomID:      *raw.RoomID,
		Content:     *raw.Content,
		MessageType: raw.MessageType,
	}
	if msg.MessageType == "" {
		msg.MessageType = TypeChat
	}
	if raw.Timestamp != nil {
		msg.Timestamp = *raw.Timestamp
	} else {
		msg.Timestamp = Now()
	}
	return msg, nil
}
