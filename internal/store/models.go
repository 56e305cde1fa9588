package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an id does not resolve to a record.
var ErrNotFound = errors.New("not found")

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Candidate struct {
	ID         string
	Name       string
	Email      string
	Position   string
	Status     string
	CreatedBy  string
	AssignedTo []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	NoteTypeNote          = "note"
	NoteTypeFeedback      = "feedback"
	NoteTypeInterviewNote = "interview_note"
	NoteTypeDecision      = "decision"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type NoteMention struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type Reaction struct {
	UserID    string    `json:"userId"`
	Kind      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type Note struct {
	ID              string        `json:"id"`
	CandidateID     string        `json:"candidateId"`
	AuthorID        string        `json:"authorId"`
	AuthorName      string        `json:"authorName"`
	Content         string        `json:"content"`
	OriginalContent string        `json:"-"`
	Type            string        `json:"type"`
	Priority        string        `json:"priority"`
	IsPrivate       bool          `json:"isPrivate"`
	IsEdited        bool          `json:"isEdited"`
	EditedAt        *time.Time    `json:"editedAt,omitempty"`
	Mentions        []NoteMention `json:"mentions"`
	Reactions       []Reaction    `json:"reactions"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

const (
	NotificationMention           = "mention"
	NotificationCandidateAssigned = "candidate_assigned"
	NotificationStatusChange      = "status_change"
)

type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipientId"`
	SenderID    string            `json:"senderId"`
	SenderName  string            `json:"senderName"`
	Kind        string            `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	NoteID      string            `json:"noteId,omitempty"`
	CandidateID string            `json:"candidateId"`
	ActionURL   string            `json:"actionUrl,omitempty"`
	IsRead      bool              `json:"isRead"`
	ReadAt      *time.Time        `json:"readAt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// NoteSearchRecord is the flattened view of a note used by full-text search.
type NoteSearchRecord struct {
	ID          string
	CandidateID string
	AuthorID    string
	AuthorName  string
	Content     string
	Type        string
	IsPrivate   bool
	CreatedAt   time.Time
}
