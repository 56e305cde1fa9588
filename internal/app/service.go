package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/mention"
	"candidatehub/api/internal/rbac"
	"candidatehub/api/internal/search"
	"candidatehub/api/internal/store"
	"candidatehub/api/internal/util"
)

type CreateNoteInput struct {
	CandidateID string `json:"candidateId" validate:"required"`
	Content     string `json:"content" validate:"required,max=2000"`
	Type        string `json:"type" validate:"omitempty,oneof=note feedback interview_note decision"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	IsPrivate   bool   `json:"isPrivate"`
}

type UpdateNoteInput struct {
	NoteID    string  `json:"noteId" validate:"required"`
	Content   *string `json:"content" validate:"omitempty,max=2000"`
	Type      *string `json:"type" validate:"omitempty,oneof=note feedback interview_note decision"`
	Priority  *string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	IsPrivate *bool   `json:"isPrivate"`
}

type SetReactionInput struct {
	NoteID string `json:"noteId" validate:"required"`
	Kind   string `json:"kind" validate:"required,oneof=like love agree disagree question"`
}

// NoteChange is the outcome of a note mutation. Mentions lists the users
// resolved from this save, which drive notifications.
type NoteChange struct {
	Note      store.Note
	Candidate store.Candidate
	Mentions  []mention.Mention
}

type ReactionChange struct {
	Note      store.Note
	Candidate store.Candidate
	Reactions []store.Reaction
}

// DataStore is the persistence surface the service needs.
type DataStore interface {
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	ResolveDisplayNames(context.Context, []string) (map[string]string, error)
	GetCandidate(context.Context, string) (store.Candidate, error)
	InsertNote(context.Context, store.Note) (store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	UpdateNote(context.Context, store.Note) (store.Note, error)
	DeleteNote(context.Context, string) error
	UpsertReaction(context.Context, string, store.Reaction) ([]store.Reaction, error)
	DeleteReaction(context.Context, string, string) ([]store.Reaction, error)
	MarkNotificationRead(context.Context, string, string, time.Time) (store.Notification, error)
	MarkAllNotificationsRead(context.Context, string, time.Time) (int, error)
	CountUnreadNotifications(context.Context, string) (int, error)
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
}

type noteIndexer interface {
	IndexNote(store.Note)
	RemoveNote(string)
}

type noteSearcher interface {
	Search(context.Context, search.Query) search.Response
}

type Service struct {
	store    DataStore
	indexer  noteIndexer
	searcher noteSearcher
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithSearch attaches a search backend used for indexing and note queries.
func WithSearch(svc *search.Service) Option {
	return func(s *Service) {
		s.indexer = svc
		s.searcher = svc
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(dataStore DataStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  dataStore,
		logger: logger.With(zap.String("component", "service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthorizeCandidate loads the candidate and checks that the actor may
// collaborate on it.
func (s *Service) AuthorizeCandidate(ctx context.Context, actor auth.Identity, candidateID string) (store.Candidate, error) {
	if strings.TrimSpace(candidateID) == "" {
		return store.Candidate{}, validationFailed("candidateId is required", []FieldError{{Field: "candidateId", Rule: "required"}})
	}
	candidate, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return store.Candidate{}, s.storeError(err, "get candidate")
	}
	access := rbac.CandidateAccess{CreatedBy: candidate.CreatedBy, AssignedTo: candidate.AssignedTo}
	if !rbac.CanAccessCandidate(actor.UserID, actor.Role, access) {
		return store.Candidate{}, accessDenied("You do not have access to this candidate")
	}
	return candidate, nil
}

func (s *Service) CreateNote(ctx context.Context, actor auth.Identity, input CreateNoteInput) (NoteChange, error) {
	if err := Validate(input); err != nil {
		return NoteChange{}, err
	}
	if !rbac.Can(actor.Role, rbac.ActionNote) {
		return NoteChange{}, accessDenied("Your role cannot write notes")
	}
	content, err := sanitizeContent(input.Content)
	if err != nil {
		return NoteChange{}, err
	}
	candidate, err := s.AuthorizeCandidate(ctx, actor, input.CandidateID)
	if err != nil {
		return NoteChange{}, err
	}
	mentions, err := s.resolveMentions(ctx, content)
	if err != nil {
		return NoteChange{}, err
	}

	now := s.now()
	note := store.Note{
		ID:              util.NewID("note"),
		CandidateID:     candidate.ID,
		AuthorID:        actor.UserID,
		AuthorName:      actor.DisplayName,
		Content:         content,
		OriginalContent: content,
		Type:            defaultString(input.Type, store.NoteTypeNote),
		Priority:        defaultString(input.Priority, store.PriorityNormal),
		IsPrivate:       input.IsPrivate,
		Mentions:        noteMentions(mentions),
		Reactions:       []store.Reaction{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	saved, err := s.store.InsertNote(ctx, note)
	if err != nil {
		return NoteChange{}, s.storeError(err, "insert note")
	}
	if s.indexer != nil {
		s.indexer.IndexNote(saved)
	}
	return NoteChange{Note: saved, Candidate: candidate, Mentions: s.notifiableMentions(ctx, saved, mentions)}, nil
}

// UpdateNote applies a partial edit. Mentions are re-resolved when the content
// changes; every resolved user is reported again so an edit re-notifies.
func (s *Service) UpdateNote(ctx context.Context, actor auth.Identity, input UpdateNoteInput) (NoteChange, error) {
	if err := Validate(input); err != nil {
		return NoteChange{}, err
	}
	note, candidate, err := s.loadModifiableNote(ctx, actor, input.NoteID)
	if err != nil {
		return NoteChange{}, err
	}

	var mentions []mention.Mention
	if input.Content != nil {
		content, err := sanitizeContent(*input.Content)
		if err != nil {
			return NoteChange{}, err
		}
		mentions, err = s.resolveMentions(ctx, content)
		if err != nil {
			return NoteChange{}, err
		}
		note.Content = content
		note.Mentions = noteMentions(mentions)
	}
	if input.Type != nil && *input.Type != "" {
		note.Type = *input.Type
	}
	if input.Priority != nil && *input.Priority != "" {
		note.Priority = *input.Priority
	}
	if input.IsPrivate != nil {
		note.IsPrivate = *input.IsPrivate
	}

	now := s.now()
	note.IsEdited = true
	note.EditedAt = &now
	note.UpdatedAt = now
	saved, err := s.store.UpdateNote(ctx, note)
	if err != nil {
		return NoteChange{}, s.storeError(err, "update note")
	}
	if s.indexer != nil {
		s.indexer.IndexNote(saved)
	}
	return NoteChange{Note: saved, Candidate: candidate, Mentions: s.notifiableMentions(ctx, saved, mentions)}, nil
}

func (s *Service) DeleteNote(ctx context.Context, actor auth.Identity, noteID string) (NoteChange, error) {
	if strings.TrimSpace(noteID) == "" {
		return NoteChange{}, validationFailed("noteId is required", []FieldError{{Field: "noteId", Rule: "required"}})
	}
	note, candidate, err := s.loadModifiableNote(ctx, actor, noteID)
	if err != nil {
		return NoteChange{}, err
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return NoteChange{}, s.storeError(err, "delete note")
	}
	if s.indexer != nil {
		s.indexer.RemoveNote(noteID)
	}
	return NoteChange{Note: note, Candidate: candidate}, nil
}

// SetReaction records the actor's reaction, replacing any earlier one.
func (s *Service) SetReaction(ctx context.Context, actor auth.Identity, input SetReactionInput) (ReactionChange, error) {
	if err := Validate(input); err != nil {
		return ReactionChange{}, err
	}
	note, candidate, err := s.loadVisibleNote(ctx, actor, input.NoteID, rbac.ActionReact)
	if err != nil {
		return ReactionChange{}, err
	}
	reactions, err := s.store.UpsertReaction(ctx, note.ID, store.Reaction{UserID: actor.UserID, Kind: input.Kind, CreatedAt: s.now()})
	if err != nil {
		return ReactionChange{}, s.storeError(err, "upsert reaction")
	}
	note.Reactions = reactions
	return ReactionChange{Note: note, Candidate: candidate, Reactions: reactions}, nil
}

func (s *Service) RemoveReaction(ctx context.Context, actor auth.Identity, noteID string) (ReactionChange, error) {
	if strings.TrimSpace(noteID) == "" {
		return ReactionChange{}, validationFailed("noteId is required", []FieldError{{Field: "noteId", Rule: "required"}})
	}
	note, candidate, err := s.loadVisibleNote(ctx, actor, noteID, rbac.ActionReact)
	if err != nil {
		return ReactionChange{}, err
	}
	reactions, err := s.store.DeleteReaction(ctx, note.ID, actor.UserID)
	if err != nil {
		return ReactionChange{}, s.storeError(err, "delete reaction")
	}
	note.Reactions = reactions
	return ReactionChange{Note: note, Candidate: candidate, Reactions: reactions}, nil
}

// MarkNotificationRead is restricted to the notification's recipient; other
// users get NOT_FOUND so ids of foreign notifications are not disclosed.
func (s *Service) MarkNotificationRead(ctx context.Context, actor auth.Identity, notificationID string) (store.Notification, error) {
	if strings.TrimSpace(notificationID) == "" {
		return store.Notification{}, validationFailed("notificationId is required", []FieldError{{Field: "notificationId", Rule: "required"}})
	}
	n, err := s.store.MarkNotificationRead(ctx, notificationID, actor.UserID, s.now())
	if err != nil {
		return store.Notification{}, s.storeError(err, "mark notification read")
	}
	return n, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, actor auth.Identity) (int, error) {
	marked, err := s.store.MarkAllNotificationsRead(ctx, actor.UserID, s.now())
	if err != nil {
		return 0, s.storeError(err, "mark all notifications read")
	}
	return marked, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, s.storeError(err, "count unread notifications")
	}
	return count, nil
}

func (s *Service) ListNotifications(ctx context.Context, actor auth.Identity, limit int) ([]store.Notification, int, error) {
	items, err := s.store.ListNotifications(ctx, actor.UserID, limit)
	if err != nil {
		return nil, 0, s.storeError(err, "list notifications")
	}
	unread, err := s.UnreadCount(ctx, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

// SearchNotes searches one candidate's notes, applying the private-note rule.
func (s *Service) SearchNotes(ctx context.Context, actor auth.Identity, candidateID, text string, limit, offset int) (search.Response, error) {
	if _, err := s.AuthorizeCandidate(ctx, actor, candidateID); err != nil {
		return search.Response{}, err
	}
	if strings.TrimSpace(text) == "" {
		return search.Response{}, validationFailed("q is required", []FieldError{{Field: "q", Rule: "required"}})
	}
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.searcher.Search(ctx, search.Query{
		Text:          text,
		CandidateID:   candidateID,
		ViewerID:      actor.UserID,
		ViewerIsAdmin: actor.IsAdmin(),
		Limit:         limit,
		Offset:        offset,
	}), nil
}

// LookupUser resolves a user id for notification triggers arriving from
// outside a realtime connection.
func (s *Service) LookupUser(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, s.storeError(err, "get user")
	}
	return user, nil
}

func (s *Service) GetCandidate(ctx context.Context, candidateID string) (store.Candidate, error) {
	candidate, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return store.Candidate{}, s.storeError(err, "get candidate")
	}
	return candidate, nil
}

func (s *Service) loadModifiableNote(ctx context.Context, actor auth.Identity, noteID string) (store.Note, store.Candidate, error) {
	note, candidate, err := s.loadVisibleNote(ctx, actor, noteID, rbac.ActionNote)
	if err != nil {
		return store.Note{}, store.Candidate{}, err
	}
	if !rbac.CanModifyNote(actor.UserID, actor.Role, note.AuthorID) {
		return store.Note{}, store.Candidate{}, accessDenied("Only the author or an admin can change this note")
	}
	return note, candidate, nil
}

func (s *Service) loadVisibleNote(ctx context.Context, actor auth.Identity, noteID string, action rbac.Action) (store.Note, store.Candidate, error) {
	if !rbac.Can(actor.Role, action) {
		return store.Note{}, store.Candidate{}, accessDenied("Your role cannot perform this action")
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, store.Candidate{}, s.storeError(err, "get note")
	}
	candidate, err := s.AuthorizeCandidate(ctx, actor, note.CandidateID)
	if err != nil {
		return store.Note{}, store.Candidate{}, err
	}
	if !rbac.CanSeeNote(actor.UserID, actor.Role, note.AuthorID, note.IsPrivate) {
		return store.Note{}, store.Candidate{}, notFound("Note not found")
	}
	return note, candidate, nil
}

func (s *Service) resolveMentions(ctx context.Context, content string) ([]mention.Mention, error) {
	names := mention.Names(content)
	if len(names) == 0 {
		return nil, nil
	}
	resolved, err := s.store.ResolveDisplayNames(ctx, names)
	if err != nil {
		return nil, s.storeError(err, "resolve mentions")
	}
	return mention.Extract(content, mention.MapDirectory(resolved)), nil
}

// notifiableMentions drops mentioned users who cannot see a private note.
func (s *Service) notifiableMentions(ctx context.Context, note store.Note, mentions []mention.Mention) []mention.Mention {
	if !note.IsPrivate || len(mentions) == 0 {
		return mentions
	}
	out := make([]mention.Mention, 0, len(mentions))
	for _, m := range mentions {
		if m.UserID == note.AuthorID {
			out = append(out, m)
			continue
		}
		user, err := s.store.GetUserByID(ctx, m.UserID)
		if err != nil {
			continue
		}
		if rbac.CanSeeNote(m.UserID, rbac.Normalize(user.Role), note.AuthorID, true) {
			out = append(out, m)
		}
	}
	return out
}

// storeError passes through known sentinels and logs everything else as a
// persistence failure.
func (s *Service) storeError(err error, op string) error {
	domainErr := AsDomainError(err)
	if domainErr.Code == CodePersistenceFailed {
		s.logger.Error("store call failed", zap.String("op", op), zap.Error(err))
	}
	return domainErr
}

func noteMentions(mentions []mention.Mention) []store.NoteMention {
	out := make([]store.NoteMention, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, store.NoteMention{UserID: m.UserID, Username: m.Name})
	}
	return out
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
