package chat

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/storage"
)

// validateSend checks the shape of in before any store call
func (s *Service) validateSend(in SendMessageInput) error {
	if err := s.validate.Struct(in); err != nil {
		return invalid("%v", err)
	}

	switch in.Type {
	case storage.MessageTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return invalid("text message must have content")
		}
		if in.FileURL != "" {
			return invalid("text message can not carry a file url")
		}
	case storage.MessageTypeImage, storage.MessageTypeFile:
		if in.FileURL == "" {
			return invalid("%s message must have a file url", in.Type)
		}
	default:
		if !in.Type.Valid() {
			return invalid("unknown message type %q", in.Type)
		}
	}

	if s.cfg.MaxContentLength > 0 && utf8.RuneCountInString(in.Content) > s.cfg.MaxContentLength {
		return invalid("content is longer than %d characters", s.cfg.MaxContentLength)
	}
	return nil
}

// SendMessage persists a message and delivers it to live connections.
// The message is only pushed after the store confirmed it; an unconfirmed write
// surfaces as ErrUnavailable and may be retried with the same client token.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (SendResult, error) {
	if err := s.validateSend(in); err != nil {
		return SendResult{}, err
	}

	room, err := s.authorize(ctx, in.UserID, in.RoomID)
	if err != nil {
		return SendResult{}, err
	}

	msg, err := s.persist(ctx, in)
	if errors.Is(err, storage.ErrMessageExists) {
		return s.duplicate(ctx, in)
	}
	if err != nil {
		return SendResult{}, err
	}

	// room ordering is best effort, the message is already durable
	tctx, cancel := s.storeCtx(ctx)
	if err := s.store.TouchRoom(tctx, room.ID, msg.CreatedAt); err != nil {
		s.logger.Warnw("touch room", "room", room.ID, "error", err)
	}
	cancel()

	offline := s.fanOut(room, msg, in.Origin)
	if len(offline) > 0 {
		s.notify(ctx, msg, offline)
	}

	return SendResult{Message: msg}, nil
}

func (s *Service) persist(ctx context.Context, in SendMessageInput) (storage.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.store.CreateMessage(sctx, storage.NewMessage{
		Room:        in.RoomID,
		Sender:      in.UserID,
		Content:     in.Content,
		Type:        in.Type,
		FileURL:     in.FileURL,
		ClientToken: in.ClientToken,
	})
	if errors.Is(err, storage.ErrMessageExists) {
		return storage.Message{}, err
	}
	return msg, storeErr(err, "create message")
}

// duplicate returns the message first persisted under in.ClientToken, it is not delivered again
func (s *Service) duplicate(ctx context.Context, in SendMessageInput) (SendResult, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.store.MessageByClientToken(sctx, in.RoomID, in.UserID, in.ClientToken)
	if err != nil {
		return SendResult{}, storeErr(err, "load message by client token")
	}
	s.logger.Debugw("duplicate client token", "room", in.RoomID, "message", msg.ID)
	return SendResult{Message: msg, Duplicate: true}, nil
}

// fanOut pushes msg to the recipient and to the other connections of the sender.
// Failed pushes are dropped. It returns recipients without live connections.
func (s *Service) fanOut(room storage.Room, msg storage.Message, origin string) []int64 {
	evt := presence.Event{Kind: presence.EventMessage, Data: msg}

	var offline []int64
	recipient := room.Other(msg.Sender)
	s.push(s.presence.ConnectionsForUser(recipient), evt)
	// a push may disconnect a slow consumer, so presence is checked afterwards
	if !s.presence.Online(recipient) {
		offline = append(offline, recipient)
	}

	for _, id := range s.presence.ConnectionsForUser(msg.Sender) {
		if id == origin {
			continue
		}
		s.push([]string{id}, evt)
	}

	return offline
}

func (s *Service) push(conns []string, evt presence.Event) {
	for _, id := range conns {
		if err := s.presence.Push(id, evt); err != nil {
			s.logger.Debugw("push dropped", "connection", id, "event", evt.Kind, "error", err)
		}
	}
}

// notify publishes the offline recipients of msg, failures are only logged
func (s *Service) notify(ctx context.Context, msg storage.Message, recipients []int64) {
	nctx, cancel := detached(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	err := s.notifier.NewMessage(nctx, NewMessageEvent{
		RoomID:     msg.Room,
		MessageID:  msg.ID,
		SenderID:   msg.Sender,
		Recipients: recipients,
		CreatedAt:  msg.CreatedAt,
	})
	if err != nil {
		s.logger.Warnw("notify new message", "message", msg.ID, "error", err)
	}
}

// GetMessages returns page of the room history, page 1 being the newest messages,
// in ascending id order. Opening the history marks the other participant's messages read.
func (s *Service) GetMessages(ctx context.Context, user, room int64, page, pageSize int) ([]storage.Message, error) {
	if page < 0 || pageSize < 0 {
		return nil, invalid("page and page size must not be negative")
	}
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = s.cfg.PageSize
	}
	if s.cfg.MaxPageSize > 0 && pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page-1 > math.MaxInt/pageSize {
		return nil, invalid("page %d is out of range", page)
	}

	r, err := s.authorize(ctx, user, room)
	if err != nil {
		return nil, err
	}

	if _, err := s.markRead(ctx, r, user); err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msgs, err := s.store.MessagesByRoomID(sctx, room, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, storeErr(err, "load messages")
	}
	return msgs, nil
}

// MarkAllRead flips every unread message of the other participant in room and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, user, room int64) (int64, error) {
	r, err := s.authorize(ctx, user, room)
	if err != nil {
		return 0, err
	}
	return s.markRead(ctx, r, user)
}

func (s *Service) markRead(ctx context.Context, room storage.Room, reader int64) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.MarkRead(sctx, room.ID, reader)
	if err != nil {
		return 0, storeErr(err, "mark read")
	}

	if n > 0 {
		s.push(s.presence.ConnectionsForUser(room.Other(reader)), presence.Event{
			Kind: presence.EventRead,
			Data: ReadEvent{Room: room.ID, Reader: reader, Count: n},
		})
	}
	return n, nil
}

// UnreadCount returns the number of messages across all rooms of user sent by somebody else and not read yet
func (s *Service) UnreadCount(ctx context.Context, user int64) (int64, error) {
	if user < 1 {
		return 0, invalid("user id must be greater than zero")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.UnreadCount(sctx, user)
	if err != nil {
		return 0, storeErr(err, "unread count")
	}
	return n, nil
}

// RoomUnreadCount is UnreadCount scoped to a single room user participates in
func (s *Service) RoomUnreadCount(ctx context.Context, user, room int64) (int64, error) {
	if _, err := s.authorize(ctx, user, room); err != nil {
		return 0, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.RoomUnreadCount(sctx, room, user)
	if err != nil {
		return 0, storeErr(err, "room unread count")
	}
	return n, nil
}

// Typing signals the other participant's connections joined to room.
// Nothing is persisted or queued. Every failure after the membership check is dropped.
func (s *Service) Typing(ctx context.Context, user, room int64) error {
	r, err := s.authorize(ctx, user, room)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			s.logger.Debugw("typing dropped", "room", room, "error", err)
			return nil
		}
		return err
	}

	s.push(s.presence.JoinedConnections(r.Other(user), r.ID), presence.Event{
		Kind: presence.EventTyping,
		Data: TypingEvent{Room: r.ID, User: user},
	})
	return nil
}

// JoinRoom scopes typing delivery of the connection to room. It does not check membership.
func (s *Service) JoinRoom(connID string, room int64) error {
	if room < 1 {
		return invalid("room id must be greater than zero")
	}
	return s.presence.JoinRoom(connID, room)
}

// LeaveRoom undoes JoinRoom, leaving a room that was not joined is not an error
func (s *Service) LeaveRoom(connID string, room int64) error {
	if room < 1 {
		return invalid("room id must be greater than zero")
	}
	return s.presence.LeaveRoom(connID, room)
}
