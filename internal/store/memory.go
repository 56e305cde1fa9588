package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every record in process memory. It backs local
// development when no DATABASE_URL is configured, and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	candidates    map[string]Candidate
	notes         map[string]Note
	notifications map[string]Notification
	order         []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]User{},
		candidates:    map[string]Candidate{},
		notes:         map[string]Note{},
		notifications: map[string]Notification{},
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) ResolveDisplayNames(_ context.Context, names []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	resolved := map[string]string{}
	for _, user := range s.users {
		if !user.IsActive {
			continue
		}
		if _, ok := wanted[user.DisplayName]; ok {
			resolved[user.DisplayName] = user.ID
		}
	}
	return resolved, nil
}

func (s *MemoryStore) UpsertCandidate(_ context.Context, candidate Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.candidates[candidate.ID]; ok {
		candidate.CreatedAt = existing.CreatedAt
	} else if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = now
	}
	candidate.UpdatedAt = now
	candidate.AssignedTo = append([]string{}, candidate.AssignedTo...)
	s.candidates[candidate.ID] = candidate
	return nil
}

func (s *MemoryStore) GetCandidate(_ context.Context, candidateID string) (Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidate, ok := s.candidates[candidateID]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	candidate.AssignedTo = append([]string{}, candidate.AssignedTo...)
	return candidate, nil
}

func (s *MemoryStore) InsertNote(_ context.Context, note Note) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candidates[note.CandidateID]; !ok {
		return Note{}, ErrNotFound
	}
	if note.Reactions == nil {
		note.Reactions = []Reaction{}
	}
	if note.Mentions == nil {
		note.Mentions = []NoteMention{}
	}
	s.notes[note.ID] = cloneNote(note)
	s.order = append(s.order, note.ID)
	return cloneNote(note), nil
}

func (s *MemoryStore) GetNote(_ context.Context, noteID string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.notes[noteID]
	if !ok {
		return Note{}, ErrNotFound
	}
	return cloneNote(note), nil
}

func (s *MemoryStore) UpdateNote(_ context.Context, note Note) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.notes[note.ID]
	if !ok {
		return Note{}, ErrNotFound
	}
	existing.Content = note.Content
	existing.OriginalContent = note.OriginalContent
	existing.Type = note.Type
	existing.Priority = note.Priority
	existing.IsPrivate = note.IsPrivate
	existing.IsEdited = note.IsEdited
	existing.EditedAt = note.EditedAt
	existing.Mentions = append([]NoteMention{}, note.Mentions...)
	existing.UpdatedAt = note.UpdatedAt
	s.notes[note.ID] = existing
	return cloneNote(existing), nil
}

func (s *MemoryStore) DeleteNote(_ context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[noteID]; !ok {
		return ErrNotFound
	}
	delete(s.notes, noteID)
	for i, id := range s.order {
		if id == noteID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) UpsertReaction(_ context.Context, noteID string, reaction Reaction) ([]Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok {
		return nil, ErrNotFound
	}
	replaced := false
	for i, existing := range note.Reactions {
		if existing.UserID == reaction.UserID {
			note.Reactions[i].Kind = reaction.Kind
			replaced = true
			break
		}
	}
	if !replaced {
		note.Reactions = append(note.Reactions, reaction)
	}
	s.notes[noteID] = note
	return append([]Reaction{}, note.Reactions...), nil
}

func (s *MemoryStore) DeleteReaction(_ context.Context, noteID, userID string) ([]Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.notes[noteID]
	if !ok {
		return nil, ErrNotFound
	}
	kept := make([]Reaction, 0, len(note.Reactions))
	for _, r := range note.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	note.Reactions = kept
	s.notes[noteID] = note
	return append([]Reaction{}, kept...), nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n Notification) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.RecipientID]; !ok {
		return Notification{}, ErrNotFound
	}
	n.Metadata = cloneMetadata(n.Metadata)
	s.notifications[n.ID] = n
	return n, nil
}

func (s *MemoryStore) GetNotification(_ context.Context, id string) (Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	n.Metadata = cloneMetadata(n.Metadata)
	return n, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, recipientID string, at time.Time) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return Notification{}, ErrNotFound
	}
	if !n.IsRead {
		n.IsRead = true
		readAt := at
		n.ReadAt = &readAt
		s.notifications[id] = n
	}
	n.Metadata = cloneMetadata(n.Metadata)
	return n, nil
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for id, n := range s.notifications {
		if n.RecipientID != recipientID || n.IsRead {
			continue
		}
		n.IsRead = true
		readAt := at
		n.ReadAt = &readAt
		s.notifications[id] = n
		marked++
	}
	return marked, nil
}

func (s *MemoryStore) CountUnreadNotifications(_ context.Context, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	out := []Notification{}
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			n.Metadata = cloneMetadata(n.Metadata)
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListNoteSearchRecords(context.Context) ([]NoteSearchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]NoteSearchRecord, 0, len(s.order))
	for _, id := range s.order {
		note := s.notes[id]
		records = append(records, NoteSearchRecord{
			ID:          note.ID,
			CandidateID: note.CandidateID,
			AuthorID:    note.AuthorID,
			AuthorName:  note.AuthorName,
			Content:     note.Content,
			Type:        note.Type,
			IsPrivate:   note.IsPrivate,
			CreatedAt:   note.CreatedAt,
		})
	}
	return records, nil
}

func cloneNote(note Note) Note {
	note.Mentions = append([]NoteMention{}, note.Mentions...)
	note.Reactions = append([]Reaction{}, note.Reactions...)
	if note.EditedAt != nil {
		t := *note.EditedAt
		note.EditedAt = &t
	}
	return note
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
