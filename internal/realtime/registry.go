package realtime

import (
	"errors"
	"sync"
)

var ErrTooManyConnections = errors.New("too many connections for user")

type room struct {
	mu      sync.Mutex
	id      string
	members map[string]*Conn
	dead    bool
}

// Registry tracks room membership and the connections of each user. The
// table lock guards only the room map; membership is guarded per room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	usersMu sync.RWMutex
	users   map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		users: make(map[string]map[string]*Conn),
	}
}

// Register adds the connection to its user's index. A positive limit caps the
// number of connections per user.
func (r *Registry) Register(c *Conn, limit int) error {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()
	conns := r.users[c.identity.UserID]
	if limit > 0 && len(conns) >= limit {
		return ErrTooManyConnections
	}
	if conns == nil {
		conns = make(map[string]*Conn)
		r.users[c.identity.UserID] = conns
	}
	conns[c.id] = c
	return nil
}

func (r *Registry) Unregister(c *Conn) {
	r.usersMu.Lock()
	defer r.usersMu.Unlock()
	conns := r.users[c.identity.UserID]
	delete(conns, c.id)
	if len(conns) == 0 {
		delete(r.users, c.identity.UserID)
	}
}

func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	conns := r.users[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ConnectionCount(userID string) int {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return len(r.users[userID])
}

// All snapshots every registered connection.
func (r *Registry) All() []*Conn {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	var out []*Conn
	for _, conns := range r.users {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// Join adds the connection to the room, creating it when needed. It reports
// false when the connection was already a member or is closing.
func (r *Registry) Join(roomID string, c *Conn) bool {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		if _, ok := rm.members[c.id]; ok {
			rm.mu.Unlock()
			return false
		}
		if !c.addRoom(roomID) {
			r.pruneLocked(rm)
			rm.mu.Unlock()
			return false
		}
		rm.members[c.id] = c
		rm.mu.Unlock()
		return true
	}
}

// Leave removes the connection from the room and prunes it when empty.
func (r *Registry) Leave(roomID string, c *Conn) bool {
	rm := r.get(roomID)
	if rm == nil {
		c.removeRoom(roomID)
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[c.id]
	delete(rm.members, c.id)
	c.removeRoom(roomID)
	r.pruneLocked(rm)
	return ok
}

// MembersOf snapshots the room's connections.
func (r *Registry) MembersOf(roomID string) []*Conn {
	rm := r.get(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*Conn, 0, len(rm.members))
	for _, c := range rm.members {
		out = append(out, c)
	}
	return out
}

// RemoveConnectionEverywhere leaves every room the connection joined and
// returns the rooms it was removed from.
func (r *Registry) RemoveConnectionEverywhere(c *Conn) []string {
	var removed []string
	for _, roomID := range c.Rooms() {
		if r.Leave(roomID, c) {
			removed = append(removed, roomID)
		}
	}
	return removed
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// withMembers runs fn while holding the room lock. fn must not block.
func (r *Registry) withMembers(roomID string, fn func(members map[string]*Conn)) {
	rm := r.get(roomID)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	fn(rm.members)
}

func (r *Registry) get(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *Registry) getOrCreate(roomID string) *room {
	if rm := r.get(roomID); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := &room{id: roomID, members: make(map[string]*Conn)}
	r.rooms[roomID] = rm
	return rm
}

// pruneLocked drops an empty room. The caller holds rm.mu; the table lock is
// always taken after a room lock, never before.
func (r *Registry) pruneLocked(rm *room) {
	if len(rm.members) > 0 || rm.dead {
		return
	}
	rm.dead = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}
