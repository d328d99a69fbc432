package server

import (
	"context"
	"errors"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/storage/zapadapter"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// inbound live event names
const (
	inJoinRoom    = "join_room"
	inLeaveRoom   = "leave_room"
	inSendMessage = "send_message"
	inTyping      = "typing"
	inGetMessages = "get_messages"
	inMarkRead    = "mark_read"
	inUnreadCount = "unread_count"
	inListRooms   = "list_rooms"
	inOpenRoom    = "open_room"
)

// error codes of the live error event
const (
	codeInvalidArgument = "invalid_argument"
	codeForbidden       = "forbidden"
	codeNotFound        = "not_found"
	codeUnavailable     = "unavailable"
	codeRateLimited     = "rate_limited"
	codeUnknownEvent    = "unknown_event"
	codeInternal        = "internal"
)

type errorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type roomData struct {
	Room int64 `json:"room"`
}

type messagesData struct {
	Room     int64             `json:"room"`
	Page     int               `json:"page,omitempty"`
	Messages []storage.Message `json:"messages"`
}

type markedReadData struct {
	Room    int64 `json:"room"`
	Updated int64 `json:"updated"`
}

type unreadData struct {
	Room  int64 `json:"room,omitempty"`
	Count int64 `json:"count"`
}

// dispatch translates one inbound frame into a chat call and replies to the originating connection
func (h *liveHandler) dispatch(ctx context.Context, c *client, frame []byte) {
	parser := h.parsers.Get()
	defer h.parsers.Put(parser)

	v, err := parser.ParseBytes(frame)
	if err != nil {
		h.reply(ctx, c, "", nil, fieldError("Malformed JSON"))
		return
	}

	ref := string(v.GetStringBytes("ref"))
	if !c.limiter.Allow() {
		h.replyError(c, ref, errorData{Code: codeRateLimited, Message: "Too many events", Retryable: true})
		return
	}

	event := string(v.GetStringBytes("event"))
	switch event {
	case inJoinRoom:
		room, err := idField(v, "room")
		if err == nil {
			err = h.svc.JoinRoom(c.id, room)
		}
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventJoined, Data: roomData{Room: room}}, err)

	case inLeaveRoom:
		room, err := idField(v, "room")
		if err == nil {
			err = h.svc.LeaveRoom(c.id, room)
		}
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventLeft, Data: roomData{Room: room}}, err)

	case inSendMessage:
		in, err := sendMessageInput(v)
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		in.UserID = c.user
		in.Origin = c.id
		res, err := h.svc.SendMessage(ctx, in)
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventMessageSent, Data: res}, err)

	case inTyping:
		room, err := idField(v, "room")
		if err == nil {
			err = h.svc.Typing(ctx, c.user, room)
		}
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
		}

	case inGetMessages:
		room, err := idField(v, "room")
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		page, err := intField(v, "page")
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		pageSize, err := intField(v, "page_size")
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		msgs, err := h.svc.GetMessages(ctx, c.user, room, page, pageSize)
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventMessages, Data: messagesData{Room: room, Page: page, Messages: msgs}}, err)

	case inMarkRead:
		room, err := idField(v, "room")
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		n, err := h.svc.MarkAllRead(ctx, c.user, room)
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventMarkedRead, Data: markedReadData{Room: room, Updated: n}}, err)

	case inUnreadCount:
		var (
			room int64
			n    int64
		)
		if f := v.Get("room"); f != nil && f.Type() != fastjson.TypeNull {
			if room, err = idField(v, "room"); err != nil {
				h.reply(ctx, c, ref, nil, err)
				return
			}
			n, err = h.svc.RoomUnreadCount(ctx, c.user, room)
		} else {
			n, err = h.svc.UnreadCount(ctx, c.user)
		}
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventUnreadCount, Data: unreadData{Room: room, Count: n}}, err)

	case inListRooms:
		rooms, err := h.svc.ListRooms(ctx, c.user)
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventRooms, Data: rooms}, err)

	case inOpenRoom:
		other, err := idField(v, "user")
		if err != nil {
			h.reply(ctx, c, ref, nil, err)
			return
		}
		room, err := h.svc.GetOrCreateDirectRoom(ctx, c.user, other)
		h.reply(ctx, c, ref, &presence.Event{Kind: presence.EventRoom, Data: room}, err)

	default:
		h.replyError(c, ref, errorData{Code: codeUnknownEvent, Message: "Unknown event " + event})
	}
}

// reply pushes evt to c, or an error event when err is set
func (h *liveHandler) reply(ctx context.Context, c *client, ref string, evt *presence.Event, err error) {
	if err != nil {
		data := errorEvent(err)
		if data.Code == codeInternal || data.Code == codeUnavailable {
			h.logger.Desugar().Warn("live event failed",
				append(zapadapter.ContextFields(ctx), zap.String("connection", c.id), zap.Error(err))...)
		}
		h.replyError(c, ref, data)
		return
	}
	if evt == nil {
		return
	}

	evt.Ref = ref
	if err := c.Push(*evt); err != nil {
		h.logger.Debugw("reply dropped", "connection", c.id, "event", evt.Kind, "error", err)
	}
}

func (h *liveHandler) replyError(c *client, ref string, data errorData) {
	if err := c.Push(presence.Event{Kind: presence.EventError, Ref: ref, Data: data}); err != nil {
		h.logger.Debugw("error reply dropped", "connection", c.id, "error", err)
	}
}

// errorEvent maps chat errors onto live error codes, store details never reach the client
func errorEvent(err error) errorData {
	var fe fieldError
	switch {
	case errors.As(err, &fe):
		return errorData{Code: codeInvalidArgument, Message: fe.Error()}
	case errors.Is(err, chat.ErrInvalidArgument):
		return errorData{Code: codeInvalidArgument, Message: err.Error()}
	case errors.Is(err, presence.ErrUnknownConnection):
		return errorData{Code: codeInvalidArgument, Message: "Connection is not registered"}
	case errors.Is(err, chat.ErrForbidden):
		return errorData{Code: codeForbidden, Message: "User is not a room participant"}
	case errors.Is(err, chat.ErrNotFound):
		return errorData{Code: codeNotFound, Message: "Room does not exist"}
	case errors.Is(err, chat.ErrUnavailable):
		return errorData{Code: codeUnavailable, Message: "Temporarily unavailable, retry later", Retryable: true}
	default:
		return errorData{Code: codeInternal, Message: "Internal error"}
	}
}
