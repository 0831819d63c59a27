package service

import (
	"context"
	"sort"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/store"
)

// NotificationSchema describes records under notifications.
var NotificationSchema = collection.Schema{
	Path:     model.PathNotifications,
	Required: []string{"userId", "title"},
}

// Notifications manages per-user in-app messages.
type Notifications struct {
	records[model.Notification]
}

// NewNotifications binds the notifications collection to st.
func NewNotifications(st store.Store, opts ...collection.Option) *Notifications {
	return &Notifications{records[model.Notification]{
		c: collection.New[model.Notification](st, NotificationSchema, opts...),
	}}
}

// MarkAsRead flags one notification as read.
func (n *Notifications) MarkAsRead(ctx context.Context, id string) bool {
	return n.c.Update(ctx, id, collection.Patch{"read": true, "readAt": n.c.Now()})
}

// GetForUser returns a user's notifications, newest first. Stores without an
// index on userId are served by a full fetch filtered locally.
func (n *Notifications) GetForUser(ctx context.Context, userID string) []model.Notification {
	if userID == "" {
		return []model.Notification{}
	}
	out := n.c.QueryEqual(ctx, "userId", userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// UnreadCount counts a user's unread notifications.
func (n *Notifications) UnreadCount(ctx context.Context, userID string) int {
	count := 0
	for _, rec := range n.GetForUser(ctx, userID) {
		if !rec.Read {
			count++
		}
	}
	return count
}

// MarkAllAsRead marks every unread notification of a user and returns how
// many were updated.
func (n *Notifications) MarkAllAsRead(ctx context.Context, userID string) int {
	updated := 0
	for _, rec := range n.GetForUser(ctx, userID) {
		if rec.Read {
			continue
		}
		if n.MarkAsRead(ctx, rec.ID) {
			updated++
		}
	}
	return updated
}
