package chat

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/collaborators.go -package=mocks marketplace-chat/internal/chat Directory,Notifier

import (
	"context"
	"time"

	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/storage"
)

// Store is the access contract of the message store of record
type Store interface {
	RoomByID(ctx context.Context, id int64) (storage.Room, error)
	DirectRoom(ctx context.Context, a, b int64) (storage.Room, error)
	CreateDirectRoom(ctx context.Context, a, b int64) (storage.Room, error)
	RoomsByUserID(ctx context.Context, user int64) ([]storage.RoomSummary, error)
	CreateMessage(ctx context.Context, m storage.NewMessage) (storage.Message, error)
	MessageByClientToken(ctx context.Context, room, sender int64, token string) (storage.Message, error)
	TouchRoom(ctx context.Context, room int64, at time.Time) error
	MessagesByRoomID(ctx context.Context, room int64, offset, limit int) ([]storage.Message, error)
	MarkRead(ctx context.Context, room, reader int64) (int64, error)
	UnreadCount(ctx context.Context, user int64) (int64, error)
	RoomUnreadCount(ctx context.Context, room, user int64) (int64, error)
}

// Presence is the part of the presence registry used for live delivery
type Presence interface {
	ConnectionsForUser(user int64) []string
	Online(user int64) bool
	JoinedConnections(user, room int64) []string
	JoinRoom(connID string, room int64) error
	LeaveRoom(connID string, room int64) error
	Push(connID string, evt presence.Event) error
}

// Directory resolves display projections of users. Users it cannot resolve are
// left out of the result, a failing lookup returns an empty map.
type Directory interface {
	Profiles(ctx context.Context, ids []int64) map[int64]storage.User
}

// Notifier receives new message events for recipients without a live connection
type Notifier interface {
	NewMessage(ctx context.Context, evt NewMessageEvent) error
}

// NewMessageEvent describes an accepted message some recipients could not receive live
type NewMessageEvent struct {
	RoomID     int64     `json:"room_id"`
	MessageID  int64     `json:"message_id"`
	SenderID   int64     `json:"sender_id"`
	Recipients []int64   `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
}
