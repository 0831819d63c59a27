package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
)

// records gives an adapter the plain CRUD surface of its collection.
type records[T any] struct {
	c *collection.Client[T]
}

// List returns every valid record.
func (r records[T]) List(ctx context.Context) []T { return r.c.ListAll(ctx) }

// Get returns one record or nil.
func (r records[T]) Get(ctx context.Context, id string) *T { return r.c.GetByID(ctx, id) }

// Create stores a new record and returns it with id, status and timestamps set.
func (r records[T]) Create(ctx context.Context, rec T) *T { return r.c.Add(ctx, rec) }

// Update merges patch into a record.
func (r records[T]) Update(ctx context.Context, id string, patch collection.Patch) bool {
	return r.c.Update(ctx, id, patch)
}

// Delete removes a record.
func (r records[T]) Delete(ctx context.Context, id string) bool { return r.c.Remove(ctx, id) }

// Subscribe streams full snapshots of the collection.
func (r records[T]) Subscribe(ctx context.Context) (<-chan []T, func()) { return r.c.Subscribe(ctx) }

// OnChange calls fn with every snapshot until the returned function is called.
func (r records[T]) OnChange(ctx context.Context, fn func([]T)) func() { return r.c.OnChange(ctx, fn) }

// ByStatus returns the records in one status.
func (r records[T]) ByStatus(ctx context.Context, status string) []T {
	return r.c.QueryEqual(ctx, collection.FieldStatus, status)
}

// Client exposes the underlying collection client.
func (r records[T]) Client() *collection.Client[T] { return r.c }

// setStatus writes status plus extra fields. Empty strings in extra are
// left out of the patch.
func (r records[T]) setStatus(ctx context.Context, id, status string, extra map[string]string) bool {
	p := collection.Patch{collection.FieldStatus: status}
	for k, v := range extra {
		if v != "" {
			p[k] = v
		}
	}
	return r.c.Update(ctx, id, p)
}
