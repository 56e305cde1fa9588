package realtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"candidatehub/api/internal/auth"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Conn is one client connection. The send channel is never closed; done
// signals that the connection stopped accepting frames.
type Conn struct {
	id        string
	identity  auth.Identity
	createdAt time.Time
	state     atomic.Int32
	send      chan []byte

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu      sync.Mutex
	rooms   map[string]struct{}
	status  string
	closing bool
}

func newConn(buffer int, now time.Time) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:        uuid.NewString(),
		createdAt: now,
		send:      make(chan []byte, buffer),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]struct{}),
		status:    StatusOnline,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Identity() auth.Identity { return c.identity }

func (c *Conn) CreatedAt() time.Time { return c.createdAt }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// Send exposes outbound frames to the transport.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed once the connection stops accepting frames.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Context is canceled when the connection stops.
func (c *Conn) Context() context.Context { return c.ctx }

func (c *Conn) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Conn) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// Rooms returns the joined room ids, sorted.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// addRoom records a joined room unless the connection is closing.
func (c *Conn) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Conn) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// beginClose marks the connection closing and reports whether this call won.
// After it returns no room can be added to the connection.
func (c *Conn) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.closing = true
	return true
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) stop() {
	c.stopOnce.Do(c.cancel)
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	droppedClosed
	droppedSlow
)

// enqueue never blocks. A full buffer stops the connection so it cannot
// observe a gap followed by later frames.
func (c *Conn) enqueue(frame []byte) enqueueResult {
	select {
	case <-c.ctx.Done():
		return droppedClosed
	default:
	}
	select {
	case c.send <- frame:
		return enqueued
	default:
		c.stop()
		return droppedSlow
	}
}
