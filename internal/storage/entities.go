package storage

import (
	"fmt"
	"time"
)

// RoomKind enumerates room kinds. Only direct rooms exist for now.
type RoomKind string

const RoomKindDirect RoomKind = "DIRECT"

// MessageType is a closed set of message payload kinds
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

type Room struct {
	ID             int64     `json:"id"`
	Kind           RoomKind  `json:"kind"`
	Participants   [2]int64  `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// HasParticipant reports whether user is one of the two room participants
func (r Room) HasParticipant(user int64) bool {
	return r.Participants[0] == user || r.Participants[1] == user
}

// Other returns the participant that is not user
func (r Room) Other(user int64) int64 {
	if r.Participants[0] == user {
		return r.Participants[1]
	}
	return r.Participants[0]
}

// RoomSummary is a room annotated for the room list of a single user
type RoomSummary struct {
	Room
	LastMessage *Message `json:"last_message,omitempty"`
	Unread      int64    `json:"unread"`
}

type Message struct {
	ID          int64       `json:"id"`
	Room        int64       `json:"room"`
	Sender      int64       `json:"sender"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	FileURL     string      `json:"file_url,omitempty"`
	ClientToken string      `json:"client_token,omitempty"`
	IsRead      bool        `json:"is_read"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewMessage holds the caller supplied part of a message, everything else is assigned on append
type NewMessage struct {
	Room        int64
	Sender      int64
	Content     string
	Type        MessageType
	FileURL     string
	ClientToken string
}

// PairKey returns the canonical key of an unordered pair of users.
// PairKey(a, b) == PairKey(b, a) for any a and b.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// canonicalPair orders a pair the same way PairKey does
func canonicalPair(a, b int64) [2]int64 {
	if a > b {
		return [2]int64{b, a}
	}
	return [2]int64{a, b}
}
