package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// BlogSchema describes records under blogs.
var BlogSchema = collection.Schema{
	Path:          model.PathBlogs,
	Required:      []string{"title", "author.name"},
	DefaultStatus: model.BlogPending,
	Transitions:   status.Blogs,
}

// Blogs manages user-submitted posts and their moderation.
type Blogs struct {
	records[model.Blog]
}

// NewBlogs binds the blogs collection to st.
func NewBlogs(st store.Store, opts ...collection.Option) *Blogs {
	return &Blogs{records[model.Blog]{c: collection.New[model.Blog](st, BlogSchema, opts...)}}
}

// Approve publishes a post. Any prior status is accepted.
func (b *Blogs) Approve(ctx context.Context, id, notes string) bool {
	return b.setStatus(ctx, id, model.BlogApproved, map[string]string{
		"approvedAt": b.c.Now(),
		"adminNotes": notes,
	})
}

// Reject declines a post with an optional reason and notes.
func (b *Blogs) Reject(ctx context.Context, id, reason, notes string) bool {
	return b.setStatus(ctx, id, model.BlogRejected, map[string]string{
		"rejectedAt":      b.c.Now(),
		"rejectionReason": reason,
		"adminNotes":      notes,
	})
}

// Submit moves a draft into the moderation queue.
func (b *Blogs) Submit(ctx context.Context, id string) bool {
	return b.setStatus(ctx, id, model.BlogPending, nil)
}

// Published returns approved posts.
func (b *Blogs) Published(ctx context.Context) []model.Blog {
	return b.ByStatus(ctx, model.BlogApproved)
}

// ByAuthor returns posts written by name.
func (b *Blogs) ByAuthor(ctx context.Context, name string) []model.Blog {
	return b.c.QueryEqual(ctx, "author.name", name)
}
