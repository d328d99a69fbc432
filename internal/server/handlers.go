package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/storage/zapadapter"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// ChatService is the chat core as seen by both transports
type ChatService interface {
	ListRooms(ctx context.Context, user int64) ([]chat.RoomListItem, error)
	GetOrCreateDirectRoom(ctx context.Context, user, other int64) (chat.RoomView, error)
	SendMessage(ctx context.Context, in chat.SendMessageInput) (chat.SendResult, error)
	GetMessages(ctx context.Context, user, room int64, page, pageSize int) ([]storage.Message, error)
	MarkAllRead(ctx context.Context, user, room int64) (int64, error)
	UnreadCount(ctx context.Context, user int64) (int64, error)
	RoomUnreadCount(ctx context.Context, user, room int64) (int64, error)
	Typing(ctx context.Context, user, room int64) error
	JoinRoom(connID string, room int64) error
	LeaveRoom(connID string, room int64) error
}

type parsers struct {
	openRoomPool    fastjson.ParserPool
	sendMessagePool fastjson.ParserPool
	messagesPool    fastjson.ParserPool
	roomPool        fastjson.ParserPool
}

type handler struct {
	logger  *zap.SugaredLogger
	svc     ChatService
	parsers parsers
}

// fieldError describes a malformed request field, its text is returned to the client as is
type fieldError string

func (e fieldError) Error() string { return string(e) }

// idField reads a required positive 64-bit integer field
func idField(v *fastjson.Value, name string) (int64, error) {
	if !v.Exists(name) {
		return 0, fieldError(fmt.Sprintf("Missing Field %q", name))
	}
	id, err := v.Get(name).Int64()
	if err != nil {
		return 0, fieldError(fmt.Sprintf("Field %q must be a 64-bit integer value", name))
	}
	if id < 1 {
		return 0, fieldError(fmt.Sprintf("Field %q must be a valid id greater than zero", name))
	}
	return id, nil
}

// intField reads an optional integer field, missing or null fields are zero
func intField(v *fastjson.Value, name string) (int, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return 0, nil
	}
	n, err := f.Int()
	if err != nil {
		return 0, fieldError(fmt.Sprintf("Field %q must be an integer value", name))
	}
	return n, nil
}

// stringField reads an optional string field
func stringField(v *fastjson.Value, name string) (string, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return "", nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", fieldError(fmt.Sprintf("Field %q must be a string", name))
	}
	return string(b), nil
}

// sendMessageInput reads a send request shared by the REST and live transports
func sendMessageInput(v *fastjson.Value) (chat.SendMessageInput, error) {
	var (
		in  chat.SendMessageInput
		err error
	)
	if in.RoomID, err = idField(v, "room"); err != nil {
		return in, err
	}
	if in.Content, err = stringField(v, "content"); err != nil {
		return in, err
	}
	typ, err := stringField(v, "type")
	if err != nil {
		return in, err
	}
	if typ == "" {
		typ = string(storage.MessageTypeText)
	}
	in.Type = storage.MessageType(typ)
	if in.FileURL, err = stringField(v, "file_url"); err != nil {
		return in, err
	}
	if in.ClientToken, err = stringField(v, "client_token"); err != nil {
		return in, err
	}
	return in, nil
}

// errorStatus maps chat errors onto HTTP statuses and client safe messages
func errorStatus(err error) (int, string) {
	var fe fieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadRequest, fe.Error()
	case errors.Is(err, chat.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "User is not a room participant"
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound, "Room does not exist"
	case errors.Is(err, chat.ErrUnavailable):
		return http.StatusServiceUnavailable, "Temporarily unavailable, retry later"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Desugar().Error("request failed", append(zapadapter.ContextFields(r.Context()), zap.Error(err))...)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		h.logger.Desugar().Warn("store unavailable", append(zapadapter.ContextFields(r.Context()), zap.Error(err))...)
	}
	http.Error(w, msg, status)
}

func (h *handler) respond(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// userID is set by the authenticate middleware
func userID(r *http.Request) int64 {
	id, _ := zapadapter.UserIDFromContext(r.Context())
	return id
}

// rooms handles HTTP requests on "/rooms/get" endpoint
func (h *handler) rooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.ListRooms(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, rooms)
}

// openRoom handles HTTP requests on "/rooms/add" endpoint
func (h *handler) openRoom(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.openRoomPool.Get()
	defer h.parsers.openRoomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	other, err := idField(v, "user")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	room, err := h.svc.GetOrCreateDirectRoom(r.Context(), userID(r), other)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, room)
}

// sendMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.sendMessagePool.Get()
	defer h.parsers.sendMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	in, err := sendMessageInput(v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in.UserID = userID(r)

	res, err := h.svc.SendMessage(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	h.respond(w, status, res.Message)
}

// messages handles HTTP requests on "/messages/get" endpoint
func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.messagesPool.Get()
	defer h.parsers.messagesPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, err := idField(v, "room")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := intField(v, "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pageSize, err := intField(v, "page_size")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.svc.GetMessages(r.Context(), userID(r), room, page, pageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, msgs)
}

// markRead handles HTTP requests on "/messages/read" endpoint
func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.roomPool.Get()
	defer h.parsers.roomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	room, err := idField(v, "room")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	n, err := h.svc.MarkAllRead(r.Context(), userID(r), room)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, json.RawMessage(`{"updated":`+strconv.FormatInt(n, 10)+`}`))
}

// unread handles HTTP requests on "/messages/unread" endpoint, room is optional
func (h *handler) unread(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.roomPool.Get()
	defer h.parsers.roomPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	var (
		n   int64
		err error
	)
	if f := v.Get("room"); f != nil && f.Type() != fastjson.TypeNull {
		var room int64
		if room, err = idField(v, "room"); err != nil {
			h.fail(w, r, err)
			return
		}
		n, err = h.svc.RoomUnreadCount(r.Context(), userID(r), room)
	} else {
		n, err = h.svc.UnreadCount(r.Context(), userID(r))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, json.RawMessage(`{"count":`+strconv.FormatInt(n, 10)+`}`))
}
