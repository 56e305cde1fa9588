package realtime

import (
	"context"
	"encoding/json"

	"candidatehub/api/internal/app"
)

func (m *Manager) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypeJoinRoom:                 m.handleJoinRoom,
		TypeLeaveRoom:                m.handleLeaveRoom,
		TypeCreateNote:               m.handleCreateNote,
		TypeUpdateNote:               m.handleUpdateNote,
		TypeDeleteNote:               m.handleDeleteNote,
		TypeSetTyping:                m.handleSetTyping,
		TypeSetPresence:              m.handleSetPresence,
		TypeMarkNotificationRead:     m.handleMarkNotificationRead,
		TypeMarkAllNotificationsRead: m.handleMarkAllNotificationsRead,
		TypeSetReaction:              m.handleSetReaction,
		TypeRemoveReaction:           m.handleRemoveReaction,
		TypeGetOnlineUsers:           m.handleGetOnlineUsers,
		TypePing:                     m.handlePing,
	}
}

// decodeData unmarshals the payload. An absent payload decodes as empty.
func decodeData(env Envelope, target any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return app.ValidationError("Malformed " + env.Type + " payload")
	}
	return nil
}

func decodeValid(env Envelope, target any) error {
	if err := decodeData(env, target); err != nil {
		return err
	}
	return app.Validate(target)
}

func (m *Manager) handleJoinRoom(ctx context.Context, c *Conn, env Envelope) error {
	var req roomRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	identity := c.Identity()
	if _, err := m.service.AuthorizeCandidate(ctx, identity, req.CandidateID); err != nil {
		return err
	}

	m.registry.Join(req.CandidateID, c)
	m.presence.Arrive(req.CandidateID, identity, c.id, c.Status())
	if c.isClosing() {
		// Close may already have cleaned this room up.
		m.presence.Depart(req.CandidateID, identity.UserID, c.id)
		return nil
	}
	m.metrics.Rooms.Set(float64(m.registry.RoomCount()))

	m.broadcaster.Broadcast(req.CandidateID, EventUserJoinedRoom,
		RoomMember{CandidateID: req.CandidateID, UserRef: userRef(identity)},
		BroadcastOptions{Exclude: c.id})
	m.broadcaster.SendToConn(c, EventRoomJoined, env.RequestID, RoomJoined{
		CandidateID: req.CandidateID,
		OnlineUsers: m.presence.Online(req.CandidateID),
		TypingUsers: m.presence.Typing(req.CandidateID),
	})
	return nil
}

func (m *Manager) handleLeaveRoom(ctx context.Context, c *Conn, env Envelope) error {
	var req roomRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	if m.registry.Leave(req.CandidateID, c) {
		m.departRoom(c, req.CandidateID)
		m.metrics.Rooms.Set(float64(m.registry.RoomCount()))
	}
	m.broadcaster.SendToConn(c, EventRoomLeft, env.RequestID, RoomLeft{CandidateID: req.CandidateID})
	return nil
}

func (m *Manager) handleCreateNote(ctx context.Context, c *Conn, env Envelope) error {
	var input app.CreateNoteInput
	if err := decodeData(env, &input); err != nil {
		return err
	}
	change, err := m.service.CreateNote(ctx, c.Identity(), input)
	if err != nil {
		return err
	}
	m.publishNote(c, env.RequestID, EventNoteCreated, change)
	m.dispatcher.NotifyMentions(ctx, c.Identity(), change)
	return nil
}

func (m *Manager) handleUpdateNote(ctx context.Context, c *Conn, env Envelope) error {
	var input app.UpdateNoteInput
	if err := decodeData(env, &input); err != nil {
		return err
	}
	change, err := m.service.UpdateNote(ctx, c.Identity(), input)
	if err != nil {
		return err
	}
	m.publishNote(c, env.RequestID, EventNoteUpdated, change)
	m.dispatcher.NotifyMentions(ctx, c.Identity(), change)
	return nil
}

func (m *Manager) handleDeleteNote(ctx context.Context, c *Conn, env Envelope) error {
	var req noteRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	change, err := m.service.DeleteNote(ctx, c.Identity(), req.NoteID)
	if err != nil {
		return err
	}
	m.roomEvent(c, env.RequestID, change.Candidate.ID, EventNoteDeleted,
		NoteDeleted{CandidateID: change.Candidate.ID, NoteID: change.Note.ID},
		noteAudience(change.Note))
	return nil
}

func (m *Manager) handleSetReaction(ctx context.Context, c *Conn, env Envelope) error {
	var input app.SetReactionInput
	if err := decodeData(env, &input); err != nil {
		return err
	}
	change, err := m.service.SetReaction(ctx, c.Identity(), input)
	if err != nil {
		return err
	}
	m.publishReactions(c, env.RequestID, change)
	return nil
}

func (m *Manager) handleRemoveReaction(ctx context.Context, c *Conn, env Envelope) error {
	var req noteRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	change, err := m.service.RemoveReaction(ctx, c.Identity(), req.NoteID)
	if err != nil {
		return err
	}
	m.publishReactions(c, env.RequestID, change)
	return nil
}

func (m *Manager) handleSetTyping(ctx context.Context, c *Conn, env Envelope) error {
	var req typingRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	if !c.InRoom(req.CandidateID) {
		return app.AccessDeniedError("Join the room before sending typing updates")
	}
	identity := c.Identity()
	if m.presence.SetTyping(req.CandidateID, identity.UserID, req.IsTyping) {
		m.broadcaster.Broadcast(req.CandidateID, EventUserTyping, UserTyping{
			CandidateID: req.CandidateID,
			UserID:      identity.UserID,
			UserName:    identity.DisplayName,
			IsTyping:    req.IsTyping,
		}, BroadcastOptions{Exclude: c.id})
	}
	return nil
}

func (m *Manager) handleSetPresence(ctx context.Context, c *Conn, env Envelope) error {
	var req presenceRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	c.setStatus(req.Status)
	identity := c.Identity()
	for _, roomID := range c.Rooms() {
		if !m.presence.SetStatus(roomID, identity.UserID, req.Status) {
			continue
		}
		m.broadcaster.Broadcast(roomID, EventPresenceChanged, PresenceChanged{
			CandidateID: roomID,
			UserID:      identity.UserID,
			UserName:    identity.DisplayName,
			Status:      req.Status,
		}, BroadcastOptions{Exclude: c.id})
	}
	return nil
}

func (m *Manager) handleMarkNotificationRead(ctx context.Context, c *Conn, env Envelope) error {
	var req notificationRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	n, err := m.service.MarkNotificationRead(ctx, c.Identity(), req.NotificationID)
	if err != nil {
		return err
	}
	m.broadcaster.SendToConn(c, EventNotificationRead, env.RequestID, NotificationRead{NotificationID: n.ID, Marked: 1})
	m.dispatcher.PushUnreadCount(ctx, c.Identity().UserID)
	return nil
}

func (m *Manager) handleMarkAllNotificationsRead(ctx context.Context, c *Conn, env Envelope) error {
	marked, err := m.service.MarkAllNotificationsRead(ctx, c.Identity())
	if err != nil {
		return err
	}
	m.broadcaster.SendToConn(c, EventNotificationRead, env.RequestID, NotificationRead{All: true, Marked: marked})
	m.dispatcher.PushUnreadCount(ctx, c.Identity().UserID)
	return nil
}

func (m *Manager) handleGetOnlineUsers(ctx context.Context, c *Conn, env Envelope) error {
	var req roomRequest
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	if !c.InRoom(req.CandidateID) {
		if _, err := m.service.AuthorizeCandidate(ctx, c.Identity(), req.CandidateID); err != nil {
			return err
		}
	}
	m.broadcaster.SendToConn(c, EventOnlineUsers, env.RequestID, OnlineUsers{
		CandidateID: req.CandidateID,
		Users:       m.presence.Online(req.CandidateID),
	})
	return nil
}

func (m *Manager) handlePing(ctx context.Context, c *Conn, env Envelope) error {
	m.broadcaster.SendToConn(c, EventPong, env.RequestID, struct{}{})
	return nil
}

func (m *Manager) publishNote(c *Conn, requestID, kind string, change app.NoteChange) {
	m.roomEvent(c, requestID, change.Candidate.ID, kind,
		NoteEvent{CandidateID: change.Candidate.ID, Note: change.Note},
		noteAudience(change.Note))
}

func (m *Manager) publishReactions(c *Conn, requestID string, change app.ReactionChange) {
	m.roomEvent(c, requestID, change.Candidate.ID, EventReactionChanged,
		ReactionsChanged{CandidateID: change.Candidate.ID, NoteID: change.Note.ID, Reactions: change.Reactions},
		noteAudience(change.Note))
}

// roomEvent broadcasts a note event to the whole room, originator included.
// An originator outside the room gets a direct reply instead.
func (m *Manager) roomEvent(c *Conn, requestID, roomID, kind string, payload any, audience *Audience) {
	m.broadcaster.Broadcast(roomID, kind, payload, BroadcastOptions{
		Visible:   audience,
		Origin:    c.id,
		RequestID: requestID,
	})
	if !c.InRoom(roomID) {
		m.broadcaster.SendToConn(c, kind, requestID, payload)
	}
}
