package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/store"
)

const relayPublishTimeout = 2 * time.Second

// Audience restricts a broadcast to the listed users plus, optionally, admins.
// A nil audience means every member.
type Audience struct {
	UserIDs []string `json:"userIds,omitempty"`
	Admins  bool     `json:"admins,omitempty"`
}

func (a *Audience) Allows(id auth.Identity) bool {
	if a == nil {
		return true
	}
	if a.Admins && id.IsAdmin() {
		return true
	}
	for _, userID := range a.UserIDs {
		if userID == id.UserID {
			return true
		}
	}
	return false
}

// noteAudience limits private notes to their author and admins.
func noteAudience(note store.Note) *Audience {
	if !note.IsPrivate {
		return nil
	}
	return &Audience{UserIDs: []string{note.AuthorID}, Admins: true}
}

type BroadcastOptions struct {
	// Exclude skips one connection id.
	Exclude string
	// Visible filters recipients by identity.
	Visible *Audience
	// Origin receives its copy tagged with RequestID.
	Origin    string
	RequestID string
}

// Relay carries frames between processes. Frames published by this node are
// tagged with its id and ignored when they come back.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
	// Subscribe returns once the subscription is live and delivers messages
	// until ctx ends.
	Subscribe(ctx context.Context, handle func(RelayMessage)) error
}

type RelayMessage struct {
	Origin   string          `json:"origin"`
	Room     string          `json:"room,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Exclude  string          `json:"exclude,omitempty"`
	Audience *Audience       `json:"audience,omitempty"`
	Frame    json.RawMessage `json:"frame"`
}

// Broadcaster delivers frames to room members and user connections.
type Broadcaster struct {
	registry   *Registry
	relay      Relay
	nodeID     string
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
	onOverflow func(*Conn)
}

func newBroadcaster(registry *Registry, relay Relay, nodeID string, metrics *Metrics, logger *zap.Logger, now func() time.Time) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		relay:    relay,
		nodeID:   nodeID,
		metrics:  metrics,
		logger:   logger,
		now:      now,
	}
}

// Broadcast sends one event to every member of a room. The frame is encoded
// once and enqueued while the room lock is held, so every member sees the
// room's events in the same order.
func (b *Broadcaster) Broadcast(roomID, kind string, payload any, opts BroadcastOptions) int {
	at := b.now()
	frame, err := encodeFrame(kind, "", payload, at)
	if err != nil {
		b.logger.Error("encode broadcast", zap.String("type", kind), zap.Error(err))
		return 0
	}
	var originFrame []byte
	if opts.Origin != "" && opts.RequestID != "" {
		originFrame, _ = encodeFrame(kind, opts.RequestID, payload, at)
	}

	delivered := b.deliverRoom(roomID, frame, originFrame, opts)
	b.publish(RelayMessage{Room: roomID, Exclude: opts.Exclude, Audience: opts.Visible, Frame: frame})
	return delivered
}

// SendToUser sends an event to every connection of a user.
func (b *Broadcaster) SendToUser(userID, kind string, payload any) int {
	frame, err := encodeFrame(kind, "", payload, b.now())
	if err != nil {
		b.logger.Error("encode user frame", zap.String("type", kind), zap.Error(err))
		return 0
	}
	delivered := b.deliverUser(userID, frame)
	b.publish(RelayMessage{UserID: userID, Frame: frame})
	return delivered
}

// SendToConn sends a reply to a single connection.
func (b *Broadcaster) SendToConn(c *Conn, kind, requestID string, payload any) bool {
	frame, err := encodeFrame(kind, requestID, payload, b.now())
	if err != nil {
		b.logger.Error("encode reply", zap.String("type", kind), zap.Error(err))
		return false
	}
	return b.deliver(c, frame)
}

// Reachable reports whether a user may have a live connection on any node.
func (b *Broadcaster) Reachable(userID string) bool {
	return b.relay != nil || b.registry.ConnectionCount(userID) > 0
}

func (b *Broadcaster) deliverRoom(roomID string, frame, originFrame []byte, opts BroadcastOptions) int {
	delivered := 0
	var slow []*Conn
	b.registry.withMembers(roomID, func(members map[string]*Conn) {
		for id, c := range members {
			if id == opts.Exclude || !opts.Visible.Allows(c.identity) {
				continue
			}
			out := frame
			if originFrame != nil && id == opts.Origin {
				out = originFrame
			}
			switch b.enqueue(c, out) {
			case enqueued:
				delivered++
			case droppedSlow:
				slow = append(slow, c)
			}
		}
	})
	b.evict(slow)
	return delivered
}

func (b *Broadcaster) deliverUser(userID string, frame []byte) int {
	delivered := 0
	for _, c := range b.registry.ConnectionsOf(userID) {
		if b.deliver(c, frame) {
			delivered++
		}
	}
	return delivered
}

func (b *Broadcaster) deliver(c *Conn, frame []byte) bool {
	switch b.enqueue(c, frame) {
	case enqueued:
		return true
	case droppedSlow:
		b.evict([]*Conn{c})
	}
	return false
}

func (b *Broadcaster) enqueue(c *Conn, frame []byte) enqueueResult {
	result := c.enqueue(frame)
	switch result {
	case enqueued:
		b.metrics.FramesSent.Inc()
	case droppedClosed:
		b.metrics.FramesDropped.WithLabelValues("closed").Inc()
	case droppedSlow:
		b.metrics.FramesDropped.WithLabelValues("slow").Inc()
	}
	return result
}

func (b *Broadcaster) evict(slow []*Conn) {
	for _, c := range slow {
		b.logger.Warn("closing slow connection",
			zap.String("connectionID", c.id),
			zap.String("userID", c.identity.UserID),
		)
		if b.onOverflow != nil {
			go b.onOverflow(c)
		}
	}
}

func (b *Broadcaster) publish(msg RelayMessage) {
	if b.relay == nil {
		return
	}
	msg.Origin = b.nodeID
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := b.relay.Publish(ctx, msg); err != nil {
		b.logger.Warn("relay publish failed", zap.Error(err))
		return
	}
	b.metrics.RelayMessages.WithLabelValues("published").Inc()
}

// deliverRelayed hands a frame from another node to local connections.
func (b *Broadcaster) deliverRelayed(msg RelayMessage) {
	if msg.Origin == b.nodeID {
		return
	}
	b.metrics.RelayMessages.WithLabelValues("received").Inc()
	switch {
	case msg.Room != "":
		b.deliverRoom(msg.Room, msg.Frame, nil, BroadcastOptions{Exclude: msg.Exclude, Visible: msg.Audience})
	case msg.UserID != "":
		b.deliverUser(msg.UserID, msg.Frame)
	}
}
