package realtime

import (
	"context"

	"go.uber.org/zap"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/store"
)

// NotificationStore is the durable side of the dispatcher.
type NotificationStore interface {
	InsertNotification(context.Context, store.Notification) (store.Notification, error)
	CountUnreadNotifications(context.Context, string) (int, error)
}

// Dispatcher persists notifications and pushes them with a fresh unread count
// to the recipient's connections.
type Dispatcher struct {
	store       NotificationStore
	broadcaster *Broadcaster
	metrics     *Metrics
	logger      *zap.Logger
}

// NotifyMentions creates one mention notification per user resolved in this
// save, skipping the author.
func (d *Dispatcher) NotifyMentions(ctx context.Context, sender auth.Identity, change app.NoteChange) int {
	if len(change.Mentions) == 0 {
		return 0
	}
	return d.Dispatch(ctx, app.MentionNotifications(sender, change.Note, change.Candidate, change.Mentions))
}

// Dispatch persists each record and reports how many were saved. A failure for
// one recipient is logged and does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, records []store.Notification) int {
	persisted := 0
	for _, record := range records {
		if record.RecipientID == "" || record.RecipientID == record.SenderID {
			continue
		}
		saved, err := d.store.InsertNotification(ctx, record)
		if err != nil {
			d.metrics.Notifications.WithLabelValues("failed").Inc()
			d.logger.Error("persist notification failed",
				zap.String("recipientID", record.RecipientID),
				zap.String("kind", record.Kind),
				zap.Error(err),
			)
			continue
		}
		persisted++
		d.metrics.Notifications.WithLabelValues("persisted").Inc()

		if !d.broadcaster.Reachable(saved.RecipientID) {
			continue
		}
		d.broadcaster.SendToUser(saved.RecipientID, EventNotification, saved)
		d.PushUnreadCount(ctx, saved.RecipientID)
	}
	return persisted
}

// PushUnreadCount recomputes the user's unread count from the store and sends
// it to their connections.
func (d *Dispatcher) PushUnreadCount(ctx context.Context, userID string) {
	if !d.broadcaster.Reachable(userID) {
		return
	}
	count, err := d.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		d.logger.Warn("count unread notifications", zap.String("userID", userID), zap.Error(err))
		return
	}
	d.broadcaster.SendToUser(userID, EventUnreadCountChanged, UnreadCount{Count: count})
}
