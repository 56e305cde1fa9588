// Package realtime fans out candidate collaboration events to WebSocket
// connections grouped into per-candidate rooms.
package realtime

import (
	"encoding/json"
	"time"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/store"
)

// Client to server message types.
const (
	TypeJoinRoom                 = "joinRoom"
	TypeLeaveRoom                = "leaveRoom"
	TypeCreateNote               = "createNote"
	TypeUpdateNote               = "updateNote"
	TypeDeleteNote               = "deleteNote"
	TypeSetTyping                = "setTyping"
	TypeSetPresence              = "setPresence"
	TypeMarkNotificationRead     = "markNotificationRead"
	TypeMarkAllNotificationsRead = "markAllNotificationsRead"
	TypeSetReaction              = "setReaction"
	TypeRemoveReaction           = "removeReaction"
	TypeGetOnlineUsers           = "getOnlineUsers"
	TypePing                     = "ping"
)

// Server to client event types.
const (
	EventRoomJoined         = "roomJoined"
	EventRoomLeft           = "roomLeft"
	EventUserJoinedRoom     = "userJoinedRoom"
	EventUserLeftRoom       = "userLeftRoom"
	EventNoteCreated        = "noteCreated"
	EventNoteUpdated        = "noteUpdated"
	EventNoteDeleted        = "noteDeleted"
	EventReactionChanged    = "reactionChanged"
	EventUserTyping         = "userTyping"
	EventPresenceChanged    = "presenceChanged"
	EventNotification       = "notification"
	EventUnreadCountChanged = "unreadCountChanged"
	EventNotificationRead   = "notificationRead"
	EventOnlineUsers        = "onlineUsers"
	EventPong               = "pong"
	EventError              = "error"
)

// Presence statuses accepted by setPresence.
const (
	StatusOnline = "online"
	StatusAway   = "away"
	StatusBusy   = "busy"
)

// Envelope is an inbound client message.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound server message.
type Frame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

func encodeFrame(kind, requestID string, payload any, at time.Time) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return json.Marshal(Frame{Type: kind, RequestID: requestID, Data: payload, Timestamp: at.UnixMilli()})
}

func errorPayload(err error) ErrorPayload {
	domainErr := app.AsDomainError(err)
	return ErrorPayload{
		Code:      domainErr.Code,
		Message:   domainErr.Message,
		Retryable: domainErr.Retryable(),
		Details:   domainErr.Details,
	}
}

// Request payloads.

type roomRequest struct {
	CandidateID string `json:"candidateId" validate:"required"`
}

type noteRequest struct {
	NoteID string `json:"noteId" validate:"required"`
}

type typingRequest struct {
	CandidateID string `json:"candidateId" validate:"required"`
	IsTyping    bool   `json:"isTyping"`
}

type presenceRequest struct {
	Status string `json:"status" validate:"required,oneof=online away busy"`
}

type notificationRequest struct {
	NotificationID string `json:"notificationId" validate:"required"`
}

// Event payloads.

// UserRef identifies a user in room events.
type UserRef struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

func userRef(id auth.Identity) UserRef {
	return UserRef{UserID: id.UserID, UserName: id.DisplayName, Role: string(id.Role)}
}

type RoomJoined struct {
	CandidateID string       `json:"candidateId"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
	TypingUsers []string     `json:"typingUsers"`
}

type RoomLeft struct {
	CandidateID string `json:"candidateId"`
}

type RoomMember struct {
	CandidateID string `json:"candidateId"`
	UserRef
}

type NoteEvent struct {
	CandidateID string     `json:"candidateId"`
	Note        store.Note `json:"note"`
}

type NoteDeleted struct {
	CandidateID string `json:"candidateId"`
	NoteID      string `json:"noteId"`
}

type ReactionsChanged struct {
	CandidateID string           `json:"candidateId"`
	NoteID      string           `json:"noteId"`
	Reactions   []store.Reaction `json:"reactions"`
}

type UserTyping struct {
	CandidateID string `json:"candidateId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	IsTyping    bool   `json:"isTyping"`
}

type PresenceChanged struct {
	CandidateID string `json:"candidateId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	Status      string `json:"status"`
}

type OnlineUsers struct {
	CandidateID string       `json:"candidateId"`
	Users       []OnlineUser `json:"users"`
}

type UnreadCount struct {
	Count int `json:"count"`
}

type NotificationRead struct {
	NotificationID string `json:"notificationId,omitempty"`
	All            bool   `json:"all,omitempty"`
	Marked         int    `json:"marked"`
}
