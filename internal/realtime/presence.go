package realtime

import (
	"sort"
	"sync"
	"time"

	"candidatehub/api/internal/auth"
)

// OnlineUser is a user present in a room.
type OnlineUser struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	IsTyping    bool   `json:"isTyping"`
}

type userPresence struct {
	identity auth.Identity
	conns    map[string]struct{}
	status   string
	typing   bool
	typedAt  time.Time
}

type roomPresence struct {
	mu    sync.Mutex
	users map[string]*userPresence
	dead  bool
}

// TypingExpiry is a typing flag cleared by the sweeper.
type TypingExpiry struct {
	Room     string
	Identity auth.Identity
}

// Presence tracks which users are in which rooms and who is typing. A user is
// present while at least one of their connections is joined.
type Presence struct {
	mu    sync.Mutex
	rooms map[string]*roomPresence
	now   func() time.Time
}

func NewPresence(now func() time.Time) *Presence {
	if now == nil {
		now = time.Now
	}
	return &Presence{rooms: make(map[string]*roomPresence), now: now}
}

// Arrive records the connection in the room and reports whether it is the
// user's first connection there.
func (p *Presence) Arrive(roomID string, identity auth.Identity, connID, status string) bool {
	rp := p.room(roomID, true)
	rp.mu.Lock()
	for rp.dead {
		rp.mu.Unlock()
		rp = p.room(roomID, true)
		rp.mu.Lock()
	}
	defer rp.mu.Unlock()
	up, ok := rp.users[identity.UserID]
	if !ok {
		up = &userPresence{identity: identity, conns: make(map[string]struct{})}
		rp.users[identity.UserID] = up
	}
	if status != "" {
		up.status = status
	}
	first := len(up.conns) == 0
	up.conns[connID] = struct{}{}
	return first
}

// Depart removes the connection and reports whether it was the user's last
// one in the room, together with whether a typing flag was cleared.
func (p *Presence) Depart(roomID, userID, connID string) (last, wasTyping bool) {
	rp := p.room(roomID, false)
	if rp == nil {
		return false, false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	up, ok := rp.users[userID]
	if !ok {
		return false, false
	}
	if _, ok := up.conns[connID]; !ok {
		return false, false
	}
	delete(up.conns, connID)
	if len(up.conns) > 0 {
		return false, false
	}
	delete(rp.users, userID)
	p.pruneLocked(roomID, rp)
	return true, up.typing
}

// SetTyping refreshes the typing flag and reports whether it changed. Users
// not present in the room are ignored.
func (p *Presence) SetTyping(roomID, userID string, typing bool) bool {
	rp := p.room(roomID, false)
	if rp == nil {
		return false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	up, ok := rp.users[userID]
	if !ok {
		return false
	}
	if typing {
		up.typedAt = p.now()
	}
	changed := up.typing != typing
	up.typing = typing
	return changed
}

// SetStatus updates the user's status in the room if they are present.
func (p *Presence) SetStatus(roomID, userID, status string) bool {
	rp := p.room(roomID, false)
	if rp == nil {
		return false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	up, ok := rp.users[userID]
	if !ok {
		return false
	}
	up.status = status
	return true
}

// Typing lists the ids of users typing in the room, sorted.
func (p *Presence) Typing(roomID string) []string {
	out := []string{}
	rp := p.room(roomID, false)
	if rp == nil {
		return out
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	for id, up := range rp.users {
		if up.typing {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Online lists the users present in the room, ordered by name.
func (p *Presence) Online(roomID string) []OnlineUser {
	out := []OnlineUser{}
	rp := p.room(roomID, false)
	if rp == nil {
		return out
	}
	rp.mu.Lock()
	for _, up := range rp.users {
		out = append(out, OnlineUser{
			UserID:      up.identity.UserID,
			UserName:    up.identity.DisplayName,
			Role:        string(up.identity.Role),
			Status:      defaultStatus(up.status),
			Connections: len(up.conns),
			IsTyping:    up.typing,
		})
	}
	rp.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// IsPresent reports whether the user has a connection joined to the room.
func (p *Presence) IsPresent(roomID, userID string) bool {
	rp := p.room(roomID, false)
	if rp == nil {
		return false
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	_, ok := rp.users[userID]
	return ok
}

// ExpireTyping clears typing flags not refreshed since cutoff.
func (p *Presence) ExpireTyping(cutoff time.Time) []TypingExpiry {
	p.mu.Lock()
	rooms := make(map[string]*roomPresence, len(p.rooms))
	for id, rp := range p.rooms {
		rooms[id] = rp
	}
	p.mu.Unlock()

	var expired []TypingExpiry
	for id, rp := range rooms {
		rp.mu.Lock()
		for _, up := range rp.users {
			if up.typing && up.typedAt.Before(cutoff) {
				up.typing = false
				expired = append(expired, TypingExpiry{Room: id, Identity: up.identity})
			}
		}
		rp.mu.Unlock()
	}
	return expired
}

func (p *Presence) room(roomID string, create bool) *roomPresence {
	p.mu.Lock()
	defer p.mu.Unlock()
	rp, ok := p.rooms[roomID]
	if !ok && create {
		rp = &roomPresence{users: make(map[string]*userPresence)}
		p.rooms[roomID] = rp
	}
	return rp
}

// pruneLocked drops an empty room; the caller holds rp.mu.
func (p *Presence) pruneLocked(roomID string, rp *roomPresence) {
	if len(rp.users) > 0 || rp.dead {
		return
	}
	rp.dead = true
	p.mu.Lock()
	if p.rooms[roomID] == rp {
		delete(p.rooms, roomID)
	}
	p.mu.Unlock()
}

func defaultStatus(status string) string {
	if status == "" {
		return StatusOnline
	}
	return status
}
