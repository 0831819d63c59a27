package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// EmailSchema describes records under emailNotifications.
var EmailSchema = collection.Schema{
	Path:          model.PathEmailNotifications,
	Required:      []string{"to", "subject"},
	DefaultStatus: model.EmailQueued,
	Transitions:   status.Emails,
}

// Emails is the outgoing email queue. Message bodies are produced elsewhere;
// records here only track delivery.
type Emails struct {
	records[model.EmailNotification]
}

// NewEmails binds the emailNotifications collection to st.
func NewEmails(st store.Store, opts ...collection.Option) *Emails {
	return &Emails{records[model.EmailNotification]{
		c: collection.New[model.EmailNotification](st, EmailSchema, opts...),
	}}
}

// Enqueue queues an email for delivery.
func (e *Emails) Enqueue(ctx context.Context, msg model.EmailNotification) *model.EmailNotification {
	msg.Status = model.EmailQueued
	return e.Create(ctx, msg)
}

// Pending returns emails waiting to be sent.
func (e *Emails) Pending(ctx context.Context) []model.EmailNotification {
	return e.ByStatus(ctx, model.EmailQueued)
}

// MarkSent records a successful delivery.
func (e *Emails) MarkSent(ctx context.Context, id string) bool {
	return e.setStatus(ctx, id, model.EmailSent, map[string]string{"sentAt": e.c.Now()})
}

// MarkFailed records a failed delivery and its reason.
func (e *Emails) MarkFailed(ctx context.Context, id, reason string) bool {
	return e.setStatus(ctx, id, model.EmailFailed, map[string]string{"error": reason})
}

// Retry puts a failed email back in the queue and clears its last error.
func (e *Emails) Retry(ctx context.Context, id string) bool {
	return e.Update(ctx, id, collection.Patch{
		collection.FieldStatus: model.EmailQueued,
		"error":                collection.Delete,
	})
}
