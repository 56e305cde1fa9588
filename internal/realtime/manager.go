package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/store"
)

type authenticator interface {
	Authenticate(context.Context, string) (auth.Identity, error)
}

// collaboration is the domain surface the handlers drive.
type collaboration interface {
	AuthorizeCandidate(context.Context, auth.Identity, string) (store.Candidate, error)
	CreateNote(context.Context, auth.Identity, app.CreateNoteInput) (app.NoteChange, error)
	UpdateNote(context.Context, auth.Identity, app.UpdateNoteInput) (app.NoteChange, error)
	DeleteNote(context.Context, auth.Identity, string) (app.NoteChange, error)
	SetReaction(context.Context, auth.Identity, app.SetReactionInput) (app.ReactionChange, error)
	RemoveReaction(context.Context, auth.Identity, string) (app.ReactionChange, error)
	MarkNotificationRead(context.Context, auth.Identity, string) (store.Notification, error)
	MarkAllNotificationsRead(context.Context, auth.Identity) (int, error)
}

type Options struct {
	// NodeID tags relayed frames; generated when empty.
	NodeID                string
	SendBuffer            int
	TypingTimeout         time.Duration
	MaxConnectionsPerUser int
	Relay                 Relay
	Metrics               *Metrics
	Now                   func() time.Time
}

// handlerTimeout bounds the store work of one client message.
const handlerTimeout = 15 * time.Second

type handlerFunc func(ctx context.Context, c *Conn, env Envelope) error

// Manager owns every live connection and the shared room state of this
// process. It holds nothing that must survive a restart.
type Manager struct {
	gate        authenticator
	service     collaboration
	registry    *Registry
	presence    *Presence
	broadcaster *Broadcaster
	dispatcher  *Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	handlers    map[string]handlerFunc

	relay         Relay
	sendBuffer    int
	typingTimeout time.Duration
	maxPerUser    int
	now           func() time.Time

	stopMu sync.Mutex
	stop   context.CancelFunc
}

func NewManager(gate authenticator, service collaboration, notifications NotificationStore, logger *zap.Logger, opts Options) *Manager {
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 8 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With(zap.String("component", "realtime"), zap.String("nodeID", opts.NodeID))

	registry := NewRegistry()
	broadcaster := newBroadcaster(registry, opts.Relay, opts.NodeID, opts.Metrics, logger, opts.Now)
	m := &Manager{
		gate:        gate,
		service:     service,
		registry:    registry,
		presence:    NewPresence(opts.Now),
		broadcaster: broadcaster,
		dispatcher: &Dispatcher{
			store:       notifications,
			broadcaster: broadcaster,
			metrics:     opts.Metrics,
			logger:      logger,
		},
		metrics:       opts.Metrics,
		logger:        logger,
		relay:         opts.Relay,
		sendBuffer:    opts.SendBuffer,
		typingTimeout: opts.TypingTimeout,
		maxPerUser:    opts.MaxConnectionsPerUser,
		now:           opts.Now,
	}
	broadcaster.onOverflow = func(c *Conn) { m.Close(c, "slow consumer") }
	m.handlers = m.routes()
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) Presence() *Presence { return m.presence }

func (m *Manager) Broadcaster() *Broadcaster { return m.broadcaster }

func (m *Manager) Dispatcher() *Dispatcher { return m.dispatcher }

// Start subscribes to the relay and runs the typing sweeper until Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if m.relay != nil {
		if err := m.relay.Subscribe(ctx, m.broadcaster.deliverRelayed); err != nil {
			cancel()
			return err
		}
	}
	m.stopMu.Lock()
	m.stop = cancel
	m.stopMu.Unlock()
	go m.runTypingSweeper(ctx)
	return nil
}

func (m *Manager) runTypingSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.typingTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepTyping()
		}
	}
}

// SweepTyping clears typing flags older than the typing timeout and tells
// the affected rooms.
func (m *Manager) SweepTyping() int {
	expired := m.presence.ExpireTyping(m.now().Add(-m.typingTimeout))
	for _, e := range expired {
		m.broadcaster.Broadcast(e.Room, EventUserTyping, UserTyping{
			CandidateID: e.Room,
			UserID:      e.Identity.UserID,
			UserName:    e.Identity.DisplayName,
			IsTyping:    false,
		}, BroadcastOptions{})
	}
	return len(expired)
}

// Connect authenticates a credential and registers an active connection. On
// failure nothing is registered and the error is returned.
func (m *Manager) Connect(ctx context.Context, credential string) (*Conn, error) {
	c := newConn(m.sendBuffer, m.now())
	identity, err := m.gate.Authenticate(ctx, credential)
	if err != nil {
		c.setState(StateClosed)
		c.stop()
		return nil, err
	}
	c.identity = identity
	c.setState(StateAuthenticated)

	if err := m.registry.Register(c, m.maxPerUser); err != nil {
		c.setState(StateClosed)
		c.stop()
		return nil, err
	}
	c.setState(StateActive)
	m.metrics.Connections.Inc()
	m.logger.Info("connection opened",
		zap.String("connectionID", c.id),
		zap.String("userID", identity.UserID),
		zap.Int("userConnections", m.registry.ConnectionCount(identity.UserID)),
	)
	return c, nil
}

// Handle decodes one client message and runs its handler. Errors are sent to
// this connection only.
func (m *Manager) Handle(ctx context.Context, c *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		m.replyError(c, "", "invalid", app.ValidationError("Malformed message"))
		return
	}
	if c.State() != StateActive {
		m.replyError(c, env.RequestID, "unauthenticated", app.AuthenticationError("Connection is not authenticated"))
		return
	}
	handler, ok := m.handlers[env.Type]
	if !ok {
		m.replyError(c, env.RequestID, "unknown", app.ValidationError("Unknown message type: "+env.Type))
		return
	}

	m.metrics.MessagesReceived.WithLabelValues(env.Type).Inc()
	// Handlers ignore ctx cancellation: a note saved before its sender
	// disconnects still fans out and notifies.
	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	defer cancel()
	started := time.Now()
	err := m.invoke(handlerCtx, handler, c, env)
	m.metrics.HandlerDuration.WithLabelValues(env.Type).Observe(time.Since(started).Seconds())
	if err != nil {
		m.replyError(c, env.RequestID, env.Type, err)
	}
}

func (m *Manager) invoke(ctx context.Context, handler handlerFunc, c *Conn, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panic",
				zap.String("type", env.Type),
				zap.String("connectionID", c.id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = app.InternalError()
		}
	}()
	return handler(ctx, c, env)
}

func (m *Manager) replyError(c *Conn, requestID, kind string, err error) {
	payload := errorPayload(err)
	if payload.Code == app.CodePersistenceFailed {
		m.logger.Error("request failed",
			zap.String("type", kind),
			zap.String("connectionID", c.id),
			zap.Error(err),
		)
	}
	m.metrics.HandlerErrors.WithLabelValues(kind, payload.Code).Inc()
	m.broadcaster.SendToConn(c, EventError, requestID, payload)
}

// Close tears the connection down. It is idempotent and always removes the
// connection from every room, presence set and typing set before returning.
func (m *Manager) Close(c *Conn, reason string) {
	if !c.beginClose() {
		return
	}
	identity := c.Identity()
	rooms := m.registry.RemoveConnectionEverywhere(c)
	for _, roomID := range rooms {
		m.departRoom(c, roomID)
	}
	m.registry.Unregister(c)
	c.setState(StateClosed)
	c.stop()

	if identity.UserID != "" {
		m.metrics.Connections.Dec()
	}
	m.metrics.Rooms.Set(float64(m.registry.RoomCount()))
	m.logger.Info("connection closed",
		zap.String("connectionID", c.id),
		zap.String("userID", identity.UserID),
		zap.String("reason", reason),
		zap.Int("rooms", len(rooms)),
	)
}

// Shutdown stops background work and closes every connection.
func (m *Manager) Shutdown() {
	m.stopMu.Lock()
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.stopMu.Unlock()
	for _, c := range m.registry.All() {
		m.Close(c, "server shutdown")
	}
}

// departRoom updates presence after c left a room and announces the change.
func (m *Manager) departRoom(c *Conn, roomID string) {
	identity := c.Identity()
	last, wasTyping := m.presence.Depart(roomID, identity.UserID, c.id)
	opts := BroadcastOptions{Exclude: c.id}
	if wasTyping {
		m.broadcaster.Broadcast(roomID, EventUserTyping, UserTyping{
			CandidateID: roomID,
			UserID:      identity.UserID,
			UserName:    identity.DisplayName,
			IsTyping:    false,
		}, opts)
	}
	if last {
		m.broadcaster.Broadcast(roomID, EventUserLeftRoom, RoomMember{CandidateID: roomID, UserRef: userRef(identity)}, opts)
	}
}
