package chat

import (
	"context"
	"errors"

	"marketplace-chat/internal/storage"

	"github.com/samber/lo"
)

// GetOrCreateDirectRoom returns the single direct room of user and other, creating it when absent.
// The room comes hydrated with participant projections and the newest messages.
func (s *Service) GetOrCreateDirectRoom(ctx context.Context, user, other int64) (RoomView, error) {
	if user < 1 || other < 1 {
		return RoomView{}, invalid("user ids must be greater than zero")
	}
	if user == other {
		return RoomView{}, invalid("can not open a room with yourself")
	}

	room, err := s.directRoom(ctx, user, other)
	if err != nil {
		return RoomView{}, err
	}

	view := RoomView{Room: room, Users: s.profiles(ctx, room.Participants[0], room.Participants[1])}

	if s.cfg.PreviewSize > 0 {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		view.Messages, err = s.store.MessagesByRoomID(sctx, room.ID, 0, s.cfg.PreviewSize)
		if err != nil {
			return RoomView{}, storeErr(err, "load room preview")
		}
	}
	if view.Messages == nil {
		view.Messages = []storage.Message{}
	}

	return view, nil
}

// directRoom looks the pair up and creates the room when it is missing.
// A concurrent creation of the same pair loses on the unique pair key and re-reads the winner.
func (s *Service) directRoom(ctx context.Context, a, b int64) (storage.Room, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	room, err := s.store.DirectRoom(sctx, a, b)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrRoomNotExist) {
		return storage.Room{}, storeErr(err, "lookup room")
	}

	room, err = s.store.CreateDirectRoom(sctx, a, b)
	switch {
	case err == nil:
		s.logger.Debugw("direct room created", "room", room.ID, "users", room.Participants)
		return room, nil
	case errors.Is(err, storage.ErrRoomExists):
		room, err = s.store.DirectRoom(sctx, a, b)
		if err != nil {
			return storage.Room{}, storeErr(err, "lookup room after conflict")
		}
		return room, nil
	default:
		return storage.Room{}, storeErr(err, "create room")
	}
}

// ListRooms returns rooms of user ordered by last activity, newest first
func (s *Service) ListRooms(ctx context.Context, user int64) ([]RoomListItem, error) {
	if user < 1 {
		return nil, invalid("user id must be greater than zero")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	summaries, err := s.store.RoomsByUserID(sctx, user)
	if err != nil {
		return nil, storeErr(err, "list rooms")
	}

	ids := lo.Uniq(lo.FlatMap(summaries, func(r storage.RoomSummary, _ int) []int64 {
		return r.Participants[:]
	}))
	byID := lo.KeyBy(s.profiles(ctx, ids...), func(u storage.User) int64 { return u.ID })

	items := make([]RoomListItem, 0, len(summaries))
	for _, r := range summaries {
		items = append(items, RoomListItem{
			RoomSummary: r,
			Users:       []storage.User{byID[r.Participants[0]], byID[r.Participants[1]]},
		})
	}
	return items, nil
}
