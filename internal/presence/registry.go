// Package presence keeps the in-memory map of users to their open live connections.
//
// The registry is the only access path to that map. User entries are sharded by user id,
// so registration, deregistration and lookups of different users do not contend;
// a small index resolves a connection id to its owner.
package presence

import (
	"errors"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrConnectionExists  = errors.New("connection already registered")
	ErrUnknownConnection = errors.New("connection is not registered")
)

const shardCount = 32

type connection struct {
	id    string
	user  int64
	sink  Sink
	rooms map[int64]struct{}
}

type shard struct {
	mu    sync.RWMutex
	users map[int64]map[string]*connection
}

// Registry maps user ids to their live connections
type Registry struct {
	shards [shardCount]*shard

	indexMu sync.RWMutex
	index   map[string]int64 // connection id -> user id
}

func NewRegistry() *Registry {
	r := &Registry{index: make(map[string]int64)}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[int64]map[string]*connection)}
	}
	return r
}

func (r *Registry) shardFor(user int64) *shard {
	idx := user % shardCount
	if idx < 0 {
		idx = -idx
	}
	return r.shards[idx]
}

func (r *Registry) owner(connID string) (int64, bool) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()

	user, ok := r.index[connID]
	return user, ok
}

// Register adds the connection to the user's connection set
func (r *Registry) Register(connID string, user int64, sink Sink) error {
	r.indexMu.Lock()
	if _, ok := r.index[connID]; ok {
		r.indexMu.Unlock()
		return ErrConnectionExists
	}
	r.index[connID] = user
	r.indexMu.Unlock()

	s := r.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[user]
	if !ok {
		conns = make(map[string]*connection)
		s.users[user] = conns
	}
	conns[connID] = &connection{
		id:    connID,
		user:  user,
		sink:  sink,
		rooms: make(map[int64]struct{}),
	}

	return nil
}

// Deregister removes the connection. Removing the last connection of a user drops the user entry,
// which is what makes the user offline. Unknown ids are ignored.
func (r *Registry) Deregister(connID string) {
	r.indexMu.Lock()
	user, ok := r.index[connID]
	delete(r.index, connID)
	r.indexMu.Unlock()

	if !ok {
		return
	}

	s := r.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := s.users[user]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.users, user)
	}
}

// ConnectionsForUser returns ids of the user's open connections, nil when the user is offline
func (r *Registry) ConnectionsForUser(user int64) []string {
	s := r.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns, ok := s.users[user]
	if !ok {
		return nil
	}
	return lo.Keys(conns)
}

// JoinedConnections returns ids of the user's connections that joined room
func (r *Registry) JoinedConnections(user, room int64) []string {
	s := r.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, c := range s.users[user] {
		if _, ok := c.rooms[room]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Online reports whether user has at least one open connection
func (r *Registry) Online(user int64) bool {
	s := r.shardFor(user)
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users[user]) > 0
}

func (r *Registry) withConnection(connID string, f func(c *connection)) error {
	user, ok := r.owner(connID)
	if !ok {
		return ErrUnknownConnection
	}

	s := r.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.users[user][connID]
	if !ok {
		return ErrUnknownConnection
	}
	f(c)
	return nil
}

// JoinRoom scopes ephemeral room broadcasts (typing) to the connection. It grants no access to the room.
func (r *Registry) JoinRoom(connID string, room int64) error {
	return r.withConnection(connID, func(c *connection) {
		c.rooms[room] = struct{}{}
	})
}

// LeaveRoom reverts JoinRoom, leaving a room that was never joined is not an error
func (r *Registry) LeaveRoom(connID string, room int64) error {
	return r.withConnection(connID, func(c *connection) {
		delete(c.rooms, room)
	})
}

// Push hands evt to the connection's sink. The registry lock is not held while the sink runs.
func (r *Registry) Push(connID string, evt Event) error {
	user, ok := r.owner(connID)
	if !ok {
		return ErrUnknownConnection
	}

	s := r.shardFor(user)
	s.mu.RLock()
	c, ok := s.users[user][connID]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	return c.sink.Push(evt)
}

// Len returns the number of open connections
func (r *Registry) Len() int {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()

	return len(r.index)
}
