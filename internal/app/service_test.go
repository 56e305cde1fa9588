package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/rbac"
	"candidatehub/api/internal/store"
)

// fakeStore wraps the memory store and lets a test override single calls.
type fakeStore struct {
	*store.MemoryStore
	insertNoteFn     func(context.Context, store.Note) (store.Note, error)
	upsertReactionFn func(context.Context, string, store.Reaction) ([]store.Reaction, error)
	pingFn           func(context.Context) error
}

func (f *fakeStore) InsertNote(ctx context.Context, note store.Note) (store.Note, error) {
	if f.insertNoteFn != nil {
		return f.insertNoteFn(ctx, note)
	}
	return f.MemoryStore.InsertNote(ctx, note)
}

func (f *fakeStore) UpsertReaction(ctx context.Context, noteID string, r store.Reaction) ([]store.Reaction, error) {
	if f.upsertReactionFn != nil {
		return f.upsertReactionFn(ctx, noteID, r)
	}
	return f.MemoryStore.UpsertReaction(ctx, noteID, r)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

var (
	avery = auth.Identity{UserID: "u-avery", DisplayName: "Avery", Role: rbac.RoleAdmin}
	blake = auth.Identity{UserID: "u-blake", DisplayName: "Blake", Role: rbac.RoleRecruiter}
	casey = auth.Identity{UserID: "u-casey", DisplayName: "Casey", Role: rbac.RoleHiringManager}
	drew  = auth.Identity{UserID: "u-drew", DisplayName: "Drew", Role: rbac.RoleRecruiter}
)

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, id := range []auth.Identity{avery, blake, casey, drew} {
		if err := mem.UpsertUser(ctx, store.User{ID: id.UserID, DisplayName: id.DisplayName, Role: string(id.Role), IsActive: true}); err != nil {
			t.Fatalf("UpsertUser() error = %v", err)
		}
	}
	if err := mem.UpsertCandidate(ctx, store.Candidate{ID: "c-1", Name: "Jordan Lee", CreatedBy: blake.UserID, AssignedTo: []string{casey.UserID}}); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}
	return &fakeStore{MemoryStore: mem}
}

func newTestService(fs *fakeStore) *Service {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(fs, zap.NewNop(), WithClock(func() time.Time { return fixed }))
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}

func TestAuthorizeCandidate(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	cases := []struct {
		name        string
		actor       auth.Identity
		candidateID string
		wantCode    string
	}{
		{name: "creator", actor: blake, candidateID: "c-1"},
		{name: "assignee", actor: casey, candidateID: "c-1"},
		{name: "admin", actor: avery, candidateID: "c-1"},
		{name: "stranger", actor: drew, candidateID: "c-1", wantCode: CodeAccessDenied},
		{name: "unknown candidate", actor: avery, candidateID: "c-404", wantCode: CodeNotFound},
		{name: "blank candidate", actor: avery, candidateID: " ", wantCode: CodeValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AuthorizeCandidate(context.Background(), tc.actor, tc.candidateID)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("AuthorizeCandidate() error = %v", err)
				}
				return
			}
			if got := domainCode(t, err); got != tc.wantCode {
				t.Fatalf("AuthorizeCandidate() code = %s, want %s", got, tc.wantCode)
			}
		})
	}
}

func TestCreateNoteResolvesMentionsAndDefaults(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	change, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{
		CandidateID: "c-1",
		Content:     "ping @Casey and @casey and @Nobody, cc @Blake <script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	note := change.Note
	if note.Type != store.NoteTypeNote || note.Priority != store.PriorityNormal {
		t.Fatalf("defaults not applied: type=%s priority=%s", note.Type, note.Priority)
	}
	if strings.Contains(note.Content, "<script>") {
		t.Fatalf("content was not sanitized: %q", note.Content)
	}
	if note.AuthorID != blake.UserID || note.AuthorName != "Blake" || note.CandidateID != "c-1" {
		t.Fatalf("unexpected author fields: %+v", note)
	}
	// Self-mentions are extracted here and dropped by the notification builder.
	if len(change.Mentions) != 2 || change.Mentions[0].UserID != casey.UserID || change.Mentions[1].UserID != blake.UserID {
		t.Fatalf("unexpected mentions: %+v", change.Mentions)
	}
	if len(note.Mentions) != 2 || note.Mentions[0].Username != "Casey" {
		t.Fatalf("mentions not stored on note: %+v", note.Mentions)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	cases := []struct {
		name     string
		actor    auth.Identity
		input    CreateNoteInput
		wantCode string
	}{
		{name: "empty content", actor: blake, input: CreateNoteInput{CandidateID: "c-1"}, wantCode: CodeValidationFailed},
		{name: "only markup", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: "<script>x</script>"}, wantCode: CodeValidationFailed},
		{name: "empty tags", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: "<b></b>"}, wantCode: CodeValidationFailed},
		{name: "blank paragraph", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: "<p> &nbsp; </p>"}, wantCode: CodeValidationFailed},
		{name: "escaped past limit", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: strings.Repeat("&", 500)}, wantCode: CodeValidationFailed},
		{name: "too long", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: strings.Repeat("a", 2001)}, wantCode: CodeValidationFailed},
		{name: "bad type", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: "x", Type: "memo"}, wantCode: CodeValidationFailed},
		{name: "bad priority", actor: blake, input: CreateNoteInput{CandidateID: "c-1", Content: "x", Priority: "critical"}, wantCode: CodeValidationFailed},
		{name: "no access", actor: drew, input: CreateNoteInput{CandidateID: "c-1", Content: "x"}, wantCode: CodeAccessDenied},
		{name: "unknown candidate", actor: blake, input: CreateNoteInput{CandidateID: "c-9", Content: "x"}, wantCode: CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateNote(context.Background(), tc.actor, tc.input)
			if got := domainCode(t, err); got != tc.wantCode {
				t.Fatalf("CreateNote() code = %s, want %s", got, tc.wantCode)
			}
		})
	}

	if _, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{CandidateID: "c-1", Content: strings.Repeat("é", 2000)}); err != nil {
		t.Fatalf("2000 characters should be accepted, got %v", err)
	}
	saved, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{CandidateID: "c-1", Content: "<p><b>strong</b> hire</p>"})
	if err != nil || saved.Note.Content != "<p><b>strong</b> hire</p>" {
		t.Fatalf("allowed markup = %q, %v", saved.Note.Content, err)
	}
}

func TestUpdateNoteRejectsMarkupOnlyContent(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	ctx := context.Background()
	created, err := svc.CreateNote(ctx, blake, CreateNoteInput{CandidateID: "c-1", Content: "keep me"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	empty := "<i> </i>"
	if _, err := svc.UpdateNote(ctx, blake, UpdateNoteInput{NoteID: created.Note.ID, Content: &empty}); domainCode(t, err) != CodeValidationFailed {
		t.Fatalf("UpdateNote() error = %v, want validation failure", err)
	}
	note, err := svc.store.GetNote(ctx, created.Note.ID)
	if err != nil || note.Content != "keep me" {
		t.Fatalf("stored content = %q, %v", note.Content, err)
	}
}

func TestCreateNotePersistenceFailureIsRetryable(t *testing.T) {
	fs := newFakeStore(t)
	fs.insertNoteFn = func(context.Context, store.Note) (store.Note, error) {
		return store.Note{}, errors.New("connection reset")
	}
	svc := newTestService(fs)
	_, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{CandidateID: "c-1", Content: "hello"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != CodePersistenceFailed || !domainErr.Retryable() {
		t.Fatalf("CreateNote() error = %v, want retryable persistence failure", err)
	}
}

func TestUpdateAndDeleteNoteOwnership(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	ctx := context.Background()
	created, err := svc.CreateNote(ctx, blake, CreateNoteInput{CandidateID: "c-1", Content: "first draft"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	noteID := created.Note.ID

	content := "now with @Casey"
	if _, err := svc.UpdateNote(ctx, casey, UpdateNoteInput{NoteID: noteID, Content: &content}); domainCode(t, err) != CodeAccessDenied {
		t.Fatalf("assignee should not edit another author's note, got %v", err)
	}

	priority := store.PriorityUrgent
	updated, err := svc.UpdateNote(ctx, blake, UpdateNoteInput{NoteID: noteID, Content: &content, Priority: &priority})
	if err != nil {
		t.Fatalf("UpdateNote() error = %v", err)
	}
	if !updated.Note.IsEdited || updated.Note.EditedAt == nil || updated.Note.Priority != store.PriorityUrgent {
		t.Fatalf("unexpected updated note: %+v", updated.Note)
	}
	if updated.Note.OriginalContent != "first draft" {
		t.Fatalf("original content = %q, want first draft", updated.Note.OriginalContent)
	}
	if len(updated.Mentions) != 1 || updated.Mentions[0].UserID != casey.UserID {
		t.Fatalf("edit should re-resolve mentions, got %+v", updated.Mentions)
	}

	// Editing only the priority reports no mentions, so no one is re-notified.
	low := store.PriorityLow
	again, err := svc.UpdateNote(ctx, blake, UpdateNoteInput{NoteID: noteID, Priority: &low})
	if err != nil {
		t.Fatalf("UpdateNote(priority) error = %v", err)
	}
	if len(again.Mentions) != 0 || len(again.Note.Mentions) != 1 {
		t.Fatalf("priority-only edit changed mentions: change=%+v note=%+v", again.Mentions, again.Note.Mentions)
	}

	if _, err := svc.DeleteNote(ctx, casey, noteID); domainCode(t, err) != CodeAccessDenied {
		t.Fatalf("assignee should not delete another author's note, got %v", err)
	}
	deleted, err := svc.DeleteNote(ctx, avery, noteID)
	if err != nil {
		t.Fatalf("admin DeleteNote() error = %v", err)
	}
	if deleted.Note.ID != noteID || deleted.Candidate.ID != "c-1" {
		t.Fatalf("unexpected delete change: %+v", deleted)
	}
	if _, err := svc.DeleteNote(ctx, avery, noteID); domainCode(t, err) != CodeNotFound {
		t.Fatalf("second delete should be NOT_FOUND, got %v", err)
	}
}

func TestPrivateNotesHiddenFromOthers(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	ctx := context.Background()
	created, err := svc.CreateNote(ctx, blake, CreateNoteInput{CandidateID: "c-1", Content: "private thoughts", IsPrivate: true})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if _, err := svc.SetReaction(ctx, casey, SetReactionInput{NoteID: created.Note.ID, Kind: "like"}); domainCode(t, err) != CodeNotFound {
		t.Fatalf("reacting to a hidden private note should be NOT_FOUND, got %v", err)
	}
	if _, err := svc.SetReaction(ctx, avery, SetReactionInput{NoteID: created.Note.ID, Kind: "like"}); err != nil {
		t.Fatalf("admin SetReaction() error = %v", err)
	}
}

func TestPrivateNoteMentionsOnlyReachViewers(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	change, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{CandidateID: "c-1", Content: "for @Casey and @Avery", IsPrivate: true})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if len(change.Note.Mentions) != 2 {
		t.Fatalf("stored mentions = %+v, want both users", change.Note.Mentions)
	}
	if len(change.Mentions) != 1 || change.Mentions[0].UserID != avery.UserID {
		t.Fatalf("notifiable mentions = %+v, want only the admin", change.Mentions)
	}
}

func TestReactionReplacesPrevious(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	ctx := context.Background()
	created, err := svc.CreateNote(ctx, blake, CreateNoteInput{CandidateID: "c-1", Content: "thoughts?"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	noteID := created.Note.ID

	if _, err := svc.SetReaction(ctx, casey, SetReactionInput{NoteID: noteID, Kind: "like"}); err != nil {
		t.Fatalf("SetReaction(like) error = %v", err)
	}
	change, err := svc.SetReaction(ctx, casey, SetReactionInput{NoteID: noteID, Kind: "love"})
	if err != nil {
		t.Fatalf("SetReaction(love) error = %v", err)
	}
	if len(change.Reactions) != 1 || change.Reactions[0].Kind != "love" || change.Reactions[0].UserID != casey.UserID {
		t.Fatalf("reactions = %+v, want exactly casey:love", change.Reactions)
	}
	if _, err := svc.SetReaction(ctx, casey, SetReactionInput{NoteID: noteID, Kind: "shrug"}); domainCode(t, err) != CodeValidationFailed {
		t.Fatalf("unknown kind should fail validation, got %v", err)
	}

	removed, err := svc.RemoveReaction(ctx, casey, noteID)
	if err != nil {
		t.Fatalf("RemoveReaction() error = %v", err)
	}
	if len(removed.Reactions) != 0 {
		t.Fatalf("reactions after remove = %+v", removed.Reactions)
	}
}

func TestNotificationReadOperations(t *testing.T) {
	fs := newFakeStore(t)
	svc := newTestService(fs)
	ctx := context.Background()
	for _, id := range []string{"n1", "n2"} {
		if _, err := fs.InsertNotification(ctx, store.Notification{ID: id, RecipientID: casey.UserID, Kind: store.NotificationMention, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("InsertNotification() error = %v", err)
		}
	}

	if _, err := svc.MarkNotificationRead(ctx, blake, "n1"); domainCode(t, err) != CodeNotFound {
		t.Fatalf("non-recipient mark read should be NOT_FOUND, got %v", err)
	}
	read, err := svc.MarkNotificationRead(ctx, casey, "n1")
	if err != nil {
		t.Fatalf("MarkNotificationRead() error = %v", err)
	}
	if !read.IsRead {
		t.Fatalf("notification not marked read: %+v", read)
	}
	if unread, _ := svc.UnreadCount(ctx, casey.UserID); unread != 1 {
		t.Fatalf("UnreadCount() = %d, want 1", unread)
	}
	marked, err := svc.MarkAllNotificationsRead(ctx, casey)
	if err != nil || marked != 1 {
		t.Fatalf("MarkAllNotificationsRead() = %d, %v; want 1", marked, err)
	}
	items, unread, err := svc.ListNotifications(ctx, casey, 10)
	if err != nil || unread != 0 || len(items) != 2 {
		t.Fatalf("ListNotifications() = %d items, unread %d, err %v", len(items), unread, err)
	}
}

func TestMentionNotificationsSkipSender(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	change, err := svc.CreateNote(context.Background(), blake, CreateNoteInput{
		CandidateID: "c-1",
		Content:     "@Casey @Blake " + strings.Repeat("x", 120),
		Type:        store.NoteTypeFeedback,
	})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	records := MentionNotifications(blake, change.Note, change.Candidate, change.Mentions)
	if len(records) != 1 {
		t.Fatalf("MentionNotifications() = %d records, want 1", len(records))
	}
	n := records[0]
	if n.RecipientID != casey.UserID || n.Kind != store.NotificationMention {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Title != "You were mentioned by Blake" || n.Message != "Blake mentioned you in a note about Jordan Lee" {
		t.Fatalf("unexpected text: %q / %q", n.Title, n.Message)
	}
	if n.ActionURL != "/candidates/c-1/notes/"+change.Note.ID {
		t.Fatalf("unexpected action url %q", n.ActionURL)
	}
	preview := n.Metadata["notePreview"]
	if !strings.HasSuffix(preview, "...") || len([]rune(preview)) != 103 {
		t.Fatalf("unexpected preview %q", preview)
	}
}

func TestNotePreview(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "short", want: "short"},
		{in: strings.Repeat("a", 100), want: strings.Repeat("a", 100)},
		{in: strings.Repeat("é", 101), want: strings.Repeat("é", 100) + "..."},
	}
	for _, tc := range cases {
		if got := NotePreview(tc.in); got != tc.want {
			t.Fatalf("NotePreview(%d runes) = %q", len([]rune(tc.in)), got)
		}
	}
}

func TestExternalNotifications(t *testing.T) {
	svc := newTestService(newFakeStore(t))
	ctx := context.Background()

	records, err := svc.ExternalNotifications(ctx, ExternalNotificationInput{
		Kind:         store.NotificationStatusChange,
		SenderID:     blake.UserID,
		CandidateID:  "c-1",
		RecipientIDs: []string{casey.UserID, blake.UserID, casey.UserID, avery.UserID},
		Status:       "final_interview",
	})
	if err != nil {
		t.Fatalf("ExternalNotifications() error = %v", err)
	}
	if len(records) != 2 || records[0].RecipientID != casey.UserID || records[1].RecipientID != avery.UserID {
		t.Fatalf("unexpected recipients: %+v", records)
	}
	if records[0].Message != "Blake moved Jordan Lee to final interview" || records[0].Metadata["status"] != "final_interview" {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	_, err = svc.ExternalNotifications(ctx, ExternalNotificationInput{
		Kind: store.NotificationStatusChange, SenderID: blake.UserID, CandidateID: "c-1", RecipientIDs: []string{casey.UserID},
	})
	if domainCode(t, err) != CodeValidationFailed {
		t.Fatalf("status_change without status should fail validation, got %v", err)
	}
	_, err = svc.ExternalNotifications(ctx, ExternalNotificationInput{
		Kind: store.NotificationMention, SenderID: blake.UserID, CandidateID: "c-1", RecipientIDs: []string{casey.UserID},
	})
	if domainCode(t, err) != CodeValidationFailed {
		t.Fatalf("mention kind is not an external trigger, got %v", err)
	}
}
