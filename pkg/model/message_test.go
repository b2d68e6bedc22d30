package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	session := Session{ID: "u-1", Username: "alice", RoomID: "general"}

	for _, typ := range []MessageType{TypeChat, TypeJoin, TypeLeave, TypeTyping, TypeSystem} {
		t.Run(string(typ), func(t *testing.T) {
			msg := NewMessage(session, typ, "hello")

			data, err := msg.Encode()
			require.NoError(t, err)

			decoded, err := DecodeMessage(data)
			require.NoError(t, err)

			assert.Equal(t, msg.UserID, decoded.UserID)
			assert.Equal(t, msg.Username, decoded.Username)
			assert.Equal(t, msg.RoomID, decoded.RoomID)
			assert.Equal(t, msg.Content, decoded.Content)
			assert.Equal(t, msg.MessageType, decoded.MessageType)
			assert.True(t, msg.Timestamp.Equal(decoded.Timestamp.Time))
			assert.Equal(t, msg.Timestamp.Truncate(time.Second), decoded.Timestamp.Truncate(time.Second))
		})
	}
}

func TestMessageWireFieldNames(t *testing.T) {
	msg := Message{
		UserID:      "u-1",
		Username:    "alice",
		RoomID:      "general",
		Content:     "hi",
		MessageType: TypeChat,
		Timestamp:   Timestamp{Time: time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)},
	}
	data, err := msg.Encode()
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]string{
		"user_id":      "u-1",
		"username":     "alice",
		"room_id":      "general",
		"content":      "hi",
		"message_type": "chat",
		"timestamp":    "2024-05-01T12:30:45Z",
	}, fields)
}

func TestDecodeMessageNaiveTimestamp(t *testing.T) {
	payload := `{"user_id":"u","username":"bob","room_id":"tech","content":"x","message_type":"join","timestamp":"2024-01-02T03:04:05.123456"}`

	msg, err := DecodeMessage([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, msg.MessageType)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC), msg.Timestamp.Time)
}

func TestDecodeMessageDefaults(t *testing.T) {
	before := time.Now().Add(-time.Second)
	msg, err := DecodeMessage([]byte(`{"user_id":"u","username":"bob","room_id":"tech","content":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChat, msg.MessageType)
	assert.True(t, msg.Timestamp.After(before))
}

func TestDecodeMessageRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `hello`,
		"unknown type":    `{"user_id":"u","username":"b","room_id":"r","content":"c","message_type":"shout"}`,
		"missing room":    `{"user_id":"u","username":"b","content":"c"}`,
		"bad timestamp":   `{"user_id":"u","username":"b","room_id":"r","content":"c","timestamp":"yesterday"}`,
		"numeric content": `{"user_id":"u","username":"b","room_id":"r","content":5}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(payload))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestJoinLeaveContent(t *testing.T) {
	s := Session{ID: "b-1", Username: "bob", RoomID: "general"}

	join := JoinMessage(s)
	assert.Equal(t, TypeJoin, join.MessageType)
	assert.Equal(t, "bob joined the room", join.Content)
	assert.Equal(t, "general", join.RoomID)

	leave := LeaveMessage(s)
	assert.Equal(t, TypeLeave, leave.MessageType)
	assert.Equal(t, "bob left the room", leave.Content)
	assert.Equal(t, "b-1", leave.UserID)
}
