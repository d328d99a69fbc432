package chat

import "marketplace-chat/internal/storage"

// SendMessageInput is the boundary shape of a send request
type SendMessageInput struct {
	UserID      int64               `validate:"gt=0"`
	RoomID      int64               `validate:"gt=0"`
	Content     string              `validate:"-"`
	Type        storage.MessageType `validate:"required"`
	FileURL     string              `validate:"omitempty,url"`
	ClientToken string              `validate:"omitempty,uuid"`
	// Origin is the live connection the request came from, it gets the result instead of a push
	Origin string `validate:"-"`
}

// SendResult is the persisted message echoed back to its sender
type SendResult struct {
	Message storage.Message `json:"message"`
	// Duplicate is set when the client token was already used, Message is then the original one
	Duplicate bool `json:"duplicate"`
}

// RoomView is a room hydrated for immediate display
type RoomView struct {
	storage.Room
	Users    []storage.User    `json:"users"`
	Messages []storage.Message `json:"messages"`
}

// RoomListItem is one entry of a user's room list
type RoomListItem struct {
	storage.RoomSummary
	Users []storage.User `json:"users"`
}

// TypingEvent is pushed to live connections of the other participant
type TypingEvent struct {
	Room int64 `json:"room"`
	User int64 `json:"user"`
}

// ReadEvent tells the sender that the other participant has read Count messages
type ReadEvent struct {
	Room   int64 `json:"room"`
	Reader int64 `json:"reader"`
	Count  int64 `json:"count"`
}
