package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps rooms and messages in process memory. It mirrors Store semantics
// (pair uniqueness, per-room monotonic ids and timestamps, bulk read flips) and is used
// for tests and for running the service without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	nextRoom int64
	nextMsg  int64
	rooms    map[int64]*Room
	pairs    map[string]int64
	messages map[int64][]*Message // room id -> messages ordered by id
	users    map[int64]User
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[int64]*Room),
		pairs:    make(map[string]int64),
		messages: make(map[int64][]*Message),
		users:    make(map[int64]User),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) RoomByID(ctx context.Context, id int64) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotExist
	}
	return *r, nil
}

func (s *MemoryStore) DirectRoom(ctx context.Context, a, b int64) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[PairKey(a, b)]
	if !ok {
		return Room{}, ErrRoomNotExist
	}
	return *s.rooms[id], nil
}

func (s *MemoryStore) CreateDirectRoom(ctx context.Context, a, b int64) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := PairKey(a, b)
	if _, ok := s.pairs[key]; ok {
		return Room{}, ErrRoomExists
	}

	s.nextRoom++
	now := s.now()
	r := &Room{
		ID:             s.nextRoom,
		Kind:           RoomKindDirect,
		Participants:   canonicalPair(a, b),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.rooms[r.ID] = r
	s.pairs[key] = r.ID

	return *r, nil
}

func (s *MemoryStore) RoomsByUserID(ctx context.Context, user int64) ([]RoomSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []RoomSummary
	for _, r := range s.rooms {
		if !r.HasParticipant(user) {
			continue
		}

		rs := RoomSummary{Room: *r}
		msgs := s.messages[r.ID]
		if len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			rs.LastMessage = &last
		}
		for _, m := range msgs {
			if m.Sender != user && !m.IsRead {
				rs.Unread++
			}
		}
		rooms = append(rooms, rs)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActivityAt.Equal(rooms[j].LastActivityAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].LastActivityAt.After(rooms[j].LastActivityAt)
	})

	return rooms, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m NewMessage) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[m.Room]; !ok {
		return Message{}, ErrRoomNotExist
	}

	msgs := s.messages[m.Room]
	if m.ClientToken != "" {
		for _, existing := range msgs {
			if existing.Sender == m.Sender && existing.ClientToken == m.ClientToken {
				return Message{}, ErrMessageExists
			}
		}
	}

	createdAt := s.now()
	if len(msgs) > 0 && createdAt.Before(msgs[len(msgs)-1].CreatedAt) {
		createdAt = msgs[len(msgs)-1].CreatedAt
	}

	s.nextMsg++
	msg := &Message{
		ID:          s.nextMsg,
		Room:        m.Room,
		Sender:      m.Sender,
		Content:     m.Content,
		Type:        m.Type,
		FileURL:     m.FileURL,
		ClientToken: m.ClientToken,
		CreatedAt:   createdAt,
	}
	s.messages[m.Room] = append(msgs, msg)

	return *msg, nil
}

func (s *MemoryStore) MessageByClientToken(ctx context.Context, room, sender int64, token string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[room] {
		if m.Sender == sender && m.ClientToken == token {
			return *m, nil
		}
	}
	return Message{}, ErrMessageNotExist
}

func (s *MemoryStore) TouchRoom(ctx context.Context, room int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[room]
	if !ok {
		return ErrRoomNotExist
	}
	if at.After(r.LastActivityAt) {
		r.LastActivityAt = at
	}
	return nil
}

func (s *MemoryStore) MessagesByRoomID(ctx context.Context, room int64, offset, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[room]
	if offset < 0 || offset >= len(msgs) || limit <= 0 {
		return []Message{}, nil
	}
	end := len(msgs) - offset
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]Message, 0, end-start)
	for _, m := range msgs[start:end] {
		page = append(page, *m)
	}
	return page, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, room, reader int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages[room] {
		if m.Sender != reader && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, user int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for id, r := range s.rooms {
		if !r.HasParticipant(user) {
			continue
		}
		for _, m := range s.messages[id] {
			if m.Sender != user && !m.IsRead {
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) RoomUnreadCount(ctx context.Context, room, user int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages[room] {
		if m.Sender != user && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UsersByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// PutUser stores a user projection under u.ID
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = u
}

// MessageCount returns the number of stored messages across all rooms
func (s *MemoryStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

// RoomCount returns the number of stored rooms
func (s *MemoryStore) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rooms)
}
