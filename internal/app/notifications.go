package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/mention"
	"candidatehub/api/internal/store"
	"candidatehub/api/internal/util"
)

const notePreviewLength = 100

// ExternalNotificationInput is a notification trigger raised outside the
// realtime layer, for example by the candidate CRUD routes.
type ExternalNotificationInput struct {
	Kind         string   `json:"type" validate:"required,oneof=candidate_assigned status_change"`
	SenderID     string   `json:"senderId" validate:"required"`
	CandidateID  string   `json:"candidateId" validate:"required"`
	RecipientIDs []string `json:"recipientIds" validate:"required,min=1,dive,required"`
	Status       string   `json:"status" validate:"required_if=Kind status_change"`
}

// MentionNotifications builds one mention notification per mentioned user,
// skipping the author.
func MentionNotifications(sender auth.Identity, note store.Note, candidate store.Candidate, mentions []mention.Mention) []store.Notification {
	out := make([]store.Notification, 0, len(mentions))
	for _, m := range mentions {
		if m.UserID == sender.UserID {
			continue
		}
		out = append(out, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: m.UserID,
			SenderID:    sender.UserID,
			SenderName:  sender.DisplayName,
			Kind:        store.NotificationMention,
			Title:       "You were mentioned by " + sender.DisplayName,
			Message:     fmt.Sprintf("%s mentioned you in a note about %s", sender.DisplayName, candidate.Name),
			NoteID:      note.ID,
			CandidateID: candidate.ID,
			ActionURL:   fmt.Sprintf("/candidates/%s/notes/%s", candidate.ID, note.ID),
			Metadata: map[string]string{
				"notePreview": NotePreview(note.Content),
				"noteType":    note.Type,
				"priority":    note.Priority,
			},
			CreatedAt: note.UpdatedAt,
		})
	}
	return out
}

// NotePreview returns the first 100 characters of content, suffixed with
// "..." when truncated.
func NotePreview(content string) string {
	if utf8.RuneCountInString(content) <= notePreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:notePreviewLength]) + "..."
}

// ExternalNotifications validates an external trigger and builds its records.
// The sender is never notified about their own action.
func (s *Service) ExternalNotifications(ctx context.Context, input ExternalNotificationInput) ([]store.Notification, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	sender, err := s.LookupUser(ctx, input.SenderID)
	if err != nil {
		return nil, err
	}
	candidate, err := s.GetCandidate(ctx, input.CandidateID)
	if err != nil {
		return nil, err
	}

	var title, message string
	metadata := map[string]string{"candidateName": candidate.Name}
	switch input.Kind {
	case store.NotificationCandidateAssigned:
		title = "New candidate assigned"
		message = fmt.Sprintf("%s assigned you to %s", sender.DisplayName, candidate.Name)
	case store.NotificationStatusChange:
		title = "Candidate status updated"
		message = fmt.Sprintf("%s moved %s to %s", sender.DisplayName, candidate.Name, strings.ReplaceAll(input.Status, "_", " "))
		metadata["status"] = input.Status
	}

	now := s.now()
	seen := map[string]struct{}{}
	out := make([]store.Notification, 0, len(input.RecipientIDs))
	for _, recipientID := range input.RecipientIDs {
		if recipientID == sender.ID {
			continue
		}
		if _, dup := seen[recipientID]; dup {
			continue
		}
		seen[recipientID] = struct{}{}
		out = append(out, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: recipientID,
			SenderID:    sender.ID,
			SenderName:  sender.DisplayName,
			Kind:        input.Kind,
			Title:       title,
			Message:     message,
			CandidateID: candidate.ID,
			ActionURL:   "/candidates/" + candidate.ID,
			Metadata:    cloneStrings(metadata),
			CreatedAt:   now,
		})
	}
	return out, nil
}

func cloneStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
