package chat_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/chat/mocks"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/storage"
	mytesting "marketplace-chat/internal/testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []presence.Event
}

func (r *recorder) Push(evt presence.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Events() []presence.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]presence.Event(nil), r.events...)
}

func (r *recorder) Kinds() []presence.EventKind {
	var kinds []presence.EventKind
	for _, e := range r.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fixture struct {
	store    *storage.MemoryStore
	registry *presence.Registry
	svc      *chat.Service
}

func bootstrap(t *testing.T, opts ...chat.Option) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	f := &fixture{
		store:    storage.NewMemoryStore(),
		registry: presence.NewRegistry(),
	}
	f.svc = chat.NewService(logger.Sugar(), f.store, f.registry, opts...)
	return f
}

// connect registers a live connection of user and returns its id and sink
func (f *fixture) connect(t *testing.T, user int64) (string, *recorder) {
	id := uuid.NewString()
	sink := &recorder{}
	require.NoError(t, f.registry.Register(id, user, sink))
	return id, sink
}

func (f *fixture) room(t *testing.T, a, b int64) int64 {
	view, err := f.svc.GetOrCreateDirectRoom(context.Background(), a, b)
	require.NoError(t, err)
	return view.ID
}

func (f *fixture) send(t *testing.T, user, room int64, content string) storage.Message {
	res, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID:  user,
		RoomID:  room,
		Content: content,
		Type:    storage.MessageTypeText,
	})
	require.NoError(t, err)
	return res.Message
}

func TestGetOrCreateDirectRoom_Symmetric(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()

	first := f.room(t, a, b)
	second := f.room(t, a, b)
	reversed := f.room(t, b, a)

	require.Equal(t, first, second)
	require.Equal(t, first, reversed)
	require.Equal(t, 1, f.store.RoomCount())
}

func TestGetOrCreateDirectRoom_Concurrent(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()

	const callers = 16
	ids := make(chan int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			view, err := f.svc.GetOrCreateDirectRoom(context.Background(), x, y)
			if err != nil {
				t.Errorf("GetOrCreateDirectRoom: %v", err)
				return
			}
			ids <- view.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		require.Equal(t, first, id)
	}
	require.Equal(t, 1, f.store.RoomCount())
}

func TestGetOrCreateDirectRoom_Self(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	user := mytesting.RandUserID()

	_, err := f.svc.GetOrCreateDirectRoom(context.Background(), user, user)
	require.ErrorIs(t, err, chat.ErrInvalidArgument)
	require.Equal(t, 0, f.store.RoomCount())
}

func TestGetOrCreateDirectRoom_Hydrated(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()

	room := f.room(t, a, b)
	f.send(t, a, room, "hi")
	f.send(t, b, room, "hello")

	view, err := f.svc.GetOrCreateDirectRoom(context.Background(), b, a)
	require.NoError(t, err)
	require.Len(t, view.Messages, 2)
	require.Equal(t, "hi", view.Messages[0].Content)
	require.Equal(t, "hello", view.Messages[1].Content)

	// no directory configured, users degrade to bare ids
	require.Len(t, view.Users, 2)
	require.ElementsMatch(t, []int64{a, b}, []int64{view.Users[0].ID, view.Users[1].ID})
	require.Empty(t, view.Users[0].FirstName)
}

func TestGetOrCreateDirectRoom_Profiles(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockDirectory(ctrl)
	f := bootstrap(t, chat.WithDirectory(directory))
	a, b := mytesting.RandUserPair()

	ann := storage.User{ID: a, FirstName: "Ann", LastName: "Lee", Avatar: "a.png"}
	directory.EXPECT().Profiles(gomock.Any(), gomock.Any()).
		Return(map[int64]storage.User{a: ann}).
		Times(1)

	view, err := f.svc.GetOrCreateDirectRoom(context.Background(), a, b)
	require.NoError(t, err)
	require.Contains(t, view.Users, ann)
	require.Contains(t, view.Users, storage.User{ID: b})
}

func TestListRooms_OrderedByActivity(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	user := mytesting.RandUserID()
	first := f.room(t, user, mytesting.RandUserID())
	second := f.room(t, user, mytesting.RandUserID())

	f.send(t, user, second, "older")
	time.Sleep(2 * time.Millisecond)
	last := f.send(t, user, first, "newer")

	rooms, err := f.svc.ListRooms(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, first, rooms[0].ID)
	require.Equal(t, second, rooms[1].ID)
	require.NotNil(t, rooms[0].LastMessage)
	require.Equal(t, last.ID, rooms[0].LastMessage.ID)
	require.Len(t, rooms[0].Users, 2)
}

func TestSendMessage_Validation(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	inputs := []chat.SendMessageInput{
		{UserID: a, RoomID: room, Content: "  ", Type: storage.MessageTypeText},
		{UserID: a, RoomID: room, Content: "hi", Type: "VIDEO"},
		{UserID: a, RoomID: room, Content: "hi", Type: storage.MessageTypeText, FileURL: "https://cdn.example.com/x.png"},
		{UserID: a, RoomID: room, Type: storage.MessageTypeImage},
		{UserID: a, RoomID: room, Type: storage.MessageTypeFile, FileURL: "not a url"},
		{UserID: a, RoomID: room, Content: "hi", Type: storage.MessageTypeText, ClientToken: "123"},
		{UserID: a, RoomID: 0, Content: "hi", Type: storage.MessageTypeText},
		{UserID: 0, RoomID: room, Content: "hi", Type: storage.MessageTypeText},
	}
	for _, in := range inputs {
		_, err := f.svc.SendMessage(context.Background(), in)
		require.ErrorIs(t, err, chat.ErrInvalidArgument, "%+v", in)
	}
	require.Equal(t, 0, f.store.MessageCount())
}

func TestSendMessage_ContentTooLong(t *testing.T) {
	t.Parallel()
	cfg := chat.DefaultConfig()
	cfg.MaxContentLength = 10
	f := bootstrap(t, chat.WithConfig(cfg))
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: a, RoomID: room, Content: mytesting.RandStringN(11), Type: storage.MessageTypeText,
	})
	require.ErrorIs(t, err, chat.ErrInvalidArgument)
}

func TestSendMessage_Image(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	res, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: a, RoomID: room, Type: storage.MessageTypeImage, FileURL: "https://cdn.example.com/x.png",
	})
	require.NoError(t, err)
	require.Equal(t, storage.MessageTypeImage, res.Message.Type)
	require.Equal(t, "https://cdn.example.com/x.png", res.Message.FileURL)
}

func TestSendMessage_Forbidden(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	stranger := mytesting.RandUserID()

	_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: stranger, RoomID: room, Content: "hi", Type: storage.MessageTypeText,
	})
	require.ErrorIs(t, err, chat.ErrForbidden)

	_, err = f.svc.GetMessages(context.Background(), stranger, room, 1, 10)
	require.ErrorIs(t, err, chat.ErrForbidden)

	_, err = f.svc.RoomUnreadCount(context.Background(), stranger, room)
	require.ErrorIs(t, err, chat.ErrForbidden)

	_, err = f.svc.MarkAllRead(context.Background(), stranger, room)
	require.ErrorIs(t, err, chat.ErrForbidden)

	require.ErrorIs(t, f.svc.Typing(context.Background(), stranger, room), chat.ErrForbidden)
	require.Equal(t, 0, f.store.MessageCount())
}

func TestSendMessage_RoomNotFound(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)

	_, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: 1, RoomID: 404, Content: "hi", Type: storage.MessageTypeText,
	})
	require.ErrorIs(t, err, chat.ErrNotFound)
	require.False(t, chat.Retryable(err))
}

func TestSendMessage_FanOut(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	origin, originSink := f.connect(t, a)
	_, otherDeviceSink := f.connect(t, a)
	_, phoneSink := f.connect(t, b)
	_, laptopSink := f.connect(t, b)

	res, err := f.svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: a, RoomID: room, Content: "hello", Type: storage.MessageTypeText, Origin: origin,
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.NotZero(t, res.Message.ID)
	require.False(t, res.Message.CreatedAt.IsZero())

	// the origin gets the result from the caller, not a push
	require.Empty(t, originSink.Events())

	for _, sink := range []*recorder{otherDeviceSink, phoneSink, laptopSink} {
		events := sink.Events()
		require.Len(t, events, 1)
		require.Equal(t, presence.EventMessage, events[0].Kind)
		require.Equal(t, res.Message, events[0].Data)
	}
}

func TestSendMessage_FanOutFailureIsInvisible(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	require.NoError(t, f.registry.Register(uuid.NewString(), b, presence.SinkFunc(func(presence.Event) error {
		return errors.New("send buffer is full")
	})))

	msg := f.send(t, a, room, "hello")
	require.NotZero(t, msg.ID)
}

func TestSendMessage_NotifiesOfflineRecipient(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	f := bootstrap(t, chat.WithNotifier(notifier))
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	var got chat.NewMessageEvent
	notifier.EXPECT().NewMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt chat.NewMessageEvent) error {
			got = evt
			return errors.New("broker is down")
		}).
		Times(1)

	msg := f.send(t, a, room, "are you there?")
	require.Equal(t, room, got.RoomID)
	require.Equal(t, msg.ID, got.MessageID)
	require.Equal(t, a, got.SenderID)
	require.Equal(t, []int64{b}, got.Recipients)

	// online recipient is not notified
	f.connect(t, b)
	f.send(t, a, room, "ping")
}

// droppingSink disconnects its connection on the first push like a slow consumer does
type droppingSink struct {
	registry *presence.Registry
	id       string
}

func (d *droppingSink) Push(presence.Event) error {
	d.registry.Deregister(d.id)
	return errors.New("send buffer is full")
}

func TestSendMessage_NotifiesRecipientDroppedDuringPush(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	f := bootstrap(t, chat.WithNotifier(notifier))
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	sink := &droppingSink{registry: f.registry, id: uuid.NewString()}
	require.NoError(t, f.registry.Register(sink.id, b, sink))

	notifier.EXPECT().NewMessage(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	f.send(t, a, room, "anyone?")
	require.False(t, f.registry.Online(b))
}

func TestSendMessage_ClientToken(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	_, sink := f.connect(t, b)

	in := chat.SendMessageInput{
		UserID: a, RoomID: room, Content: "once", Type: storage.MessageTypeText, ClientToken: uuid.NewString(),
	}

	first, err := f.svc.SendMessage(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	retry, err := f.svc.SendMessage(context.Background(), in)
	require.NoError(t, err)
	require.True(t, retry.Duplicate)
	require.Equal(t, first.Message.ID, retry.Message.ID)

	require.Equal(t, 1, f.store.MessageCount())
	require.Len(t, sink.Events(), 1)
}

func TestGetMessages_Order_And_Pages(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	var sent []storage.Message
	for i := 0; i < 7; i++ {
		sender := a
		if i%2 == 1 {
			sender = b
		}
		sent = append(sent, f.send(t, sender, room, mytesting.RandString()))
	}

	newest, err := f.svc.GetMessages(context.Background(), a, room, 1, 3)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	require.Equal(t, []int64{sent[4].ID, sent[5].ID, sent[6].ID}, ids(newest))

	oldest, err := f.svc.GetMessages(context.Background(), a, room, 3, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{sent[0].ID}, ids(oldest))

	beyond, err := f.svc.GetMessages(context.Background(), a, room, 4, 3)
	require.NoError(t, err)
	require.Empty(t, beyond)

	all, err := f.svc.GetMessages(context.Background(), b, room, 0, 0)
	require.NoError(t, err)
	require.Equal(t, ids(sent), ids(all))
	for i := 1; i < len(all); i++ {
		require.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt))
	}

	_, err = f.svc.GetMessages(context.Background(), a, room, -1, 3)
	require.ErrorIs(t, err, chat.ErrInvalidArgument)
}

func TestGetMessages_PageSizeClamped(t *testing.T) {
	t.Parallel()
	cfg := chat.DefaultConfig()
	cfg.MaxPageSize = 2
	f := bootstrap(t, chat.WithConfig(cfg))
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	for i := 0; i < 5; i++ {
		f.send(t, a, room, mytesting.RandString())
	}

	msgs, err := f.svc.GetMessages(context.Background(), b, room, 1, 1000)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestGetMessages_PageOutOfRange(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	f.send(t, a, room, "hi")

	for _, page := range []int{math.MaxInt, math.MaxInt/50 + 2} {
		_, err := f.svc.GetMessages(context.Background(), b, room, page, 50)
		require.ErrorIs(t, err, chat.ErrInvalidArgument, "page %d", page)
	}

	// far but representable pages are just empty
	msgs, err := f.svc.GetMessages(context.Background(), b, room, math.MaxInt/50, 50)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestUnreadCount_OfflineScenario(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	ctx := context.Background()

	f.send(t, a, room, "hi")

	before, err := f.svc.UnreadCount(ctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(1), before)

	msgs, err := f.svc.GetMessages(ctx, b, room, 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
	require.True(t, msgs[0].IsRead)

	after, err := f.svc.UnreadCount(ctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(0), after)
}

func TestGetMessages_SenderDoesNotMarkOwnMessages(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	ctx := context.Background()

	f.send(t, a, room, "one")
	f.send(t, a, room, "two")

	_, err := f.svc.GetMessages(ctx, a, room, 1, 50)
	require.NoError(t, err)

	n, err := f.svc.UnreadCount(ctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	scoped, err := f.svc.RoomUnreadCount(ctx, b, room)
	require.NoError(t, err)
	require.Equal(t, int64(2), scoped)
}

func TestMarkAllRead_Idempotent(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	ctx := context.Background()

	f.send(t, a, room, "one")
	f.send(t, a, room, "two")
	f.send(t, b, room, "mine")

	n, err := f.svc.MarkAllRead(ctx, b, room)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = f.svc.MarkAllRead(ctx, b, room)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	count, err := f.svc.UnreadCount(ctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	// b's own message is still unread for a
	count, err = f.svc.UnreadCount(ctx, a)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestMarkAllRead_Receipt(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	_, senderSink := f.connect(t, a)

	f.send(t, a, room, "one")
	f.send(t, a, room, "two")

	_, err := f.svc.MarkAllRead(context.Background(), b, room)
	require.NoError(t, err)

	events := senderSink.Events()
	require.Len(t, events, 1)
	require.Equal(t, presence.EventRead, events[0].Kind)
	require.Equal(t, chat.ReadEvent{Room: room, Reader: b, Count: 2}, events[0].Data)

	// nothing flipped, no receipt
	_, err = f.svc.MarkAllRead(context.Background(), b, room)
	require.NoError(t, err)
	require.Len(t, senderSink.Events(), 1)
}

func TestTyping_OnlyJoinedConnectionsOfOtherParticipant(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)
	stranger := mytesting.RandUserID()

	aConn, aSink := f.connect(t, a)
	joined, joinedSink := f.connect(t, b)
	_, idleSink := f.connect(t, b)
	strangerConn, strangerSink := f.connect(t, stranger)

	require.NoError(t, f.svc.JoinRoom(aConn, room))
	require.NoError(t, f.svc.JoinRoom(joined, room))
	// joining is routing only, a stranger can join but never receives typing of the room
	require.NoError(t, f.svc.JoinRoom(strangerConn, room))

	require.NoError(t, f.svc.Typing(context.Background(), a, room))

	require.Equal(t, []presence.EventKind{presence.EventTyping}, joinedSink.Kinds())
	require.Equal(t, chat.TypingEvent{Room: room, User: a}, joinedSink.Events()[0].Data)
	require.Empty(t, idleSink.Events())
	require.Empty(t, aSink.Events())
	require.Empty(t, strangerSink.Events())

	require.NoError(t, f.svc.LeaveRoom(joined, room))
	require.NoError(t, f.svc.Typing(context.Background(), a, room))
	require.Len(t, joinedSink.Events(), 1)
}

func TestJoinRoom_Invalid(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	conn, _ := f.connect(t, mytesting.RandUserID())

	require.ErrorIs(t, f.svc.JoinRoom(conn, 0), chat.ErrInvalidArgument)
	require.ErrorIs(t, f.svc.LeaveRoom(conn, -1), chat.ErrInvalidArgument)
	require.ErrorIs(t, f.svc.JoinRoom(uuid.NewString(), 1), presence.ErrUnknownConnection)
}

func ids(msgs []storage.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// unavailableStore fails every message write as a lost connection would
type unavailableStore struct {
	*storage.MemoryStore
}

func (unavailableStore) CreateMessage(context.Context, storage.NewMessage) (storage.Message, error) {
	return storage.Message{}, storage.ErrUnavailable
}

func TestSendMessage_UnavailableIsRetryable_NoFanOut(t *testing.T) {
	t.Parallel()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	store := unavailableStore{storage.NewMemoryStore()}
	registry := presence.NewRegistry()
	svc := chat.NewService(logger.Sugar(), store, registry)

	a, b := mytesting.RandUserPair()
	view, err := svc.GetOrCreateDirectRoom(context.Background(), a, b)
	require.NoError(t, err)
	sink := &recorder{}
	require.NoError(t, registry.Register(uuid.NewString(), b, sink))

	_, err = svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: a, RoomID: view.ID, Content: "hi", Type: storage.MessageTypeText,
	})
	require.ErrorIs(t, err, chat.ErrUnavailable)
	require.True(t, chat.Retryable(err))
	require.NotContains(t, err.Error(), "store unavailable")
	require.Empty(t, sink.Events())
}

func TestGetMessages_ExpiredContext(t *testing.T) {
	t.Parallel()
	f := bootstrap(t)
	a, b := mytesting.RandUserPair()
	room := f.room(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.GetMessages(ctx, a, room, 1, 10)
	require.True(t, chat.Retryable(err))

	// typing swallows unavailability
	require.NoError(t, f.svc.Typing(ctx, a, room))
}

// touchFailingStore loses every room activity update
type touchFailingStore struct {
	*storage.MemoryStore
}

func (touchFailingStore) TouchRoom(context.Context, int64, time.Time) error {
	return storage.ErrUnavailable
}

func TestSendMessage_TouchRoomFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	store := touchFailingStore{storage.NewMemoryStore()}
	registry := presence.NewRegistry()
	svc := chat.NewService(logger.Sugar(), store, registry)

	a, b := mytesting.RandUserPair()
	view, err := svc.GetOrCreateDirectRoom(context.Background(), a, b)
	require.NoError(t, err)
	sink := &recorder{}
	require.NoError(t, registry.Register(uuid.NewString(), b, sink))

	res, err := svc.SendMessage(context.Background(), chat.SendMessageInput{
		UserID: a, RoomID: view.ID, Content: "still here", Type: storage.MessageTypeText,
	})
	require.NoError(t, err)
	require.NotZero(t, res.Message.ID)
	require.Equal(t, 1, store.MessageCount())

	events := sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, presence.EventMessage, events[0].Kind)
	require.Equal(t, res.Message.ID, events[0].Data.(storage.Message).ID)

	history, err := svc.GetMessages(context.Background(), b, view.ID, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{res.Message.ID}, ids(history))
}
