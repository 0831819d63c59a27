package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// TourSchema describes records under tours.
var TourSchema = collection.Schema{
	Path:          model.PathTours,
	Required:      []string{"name", "location"},
	DefaultStatus: model.TourActive,
	Transitions:   status.Tours,
}

// Tours manages the tour catalogue.
type Tours struct {
	records[model.Tour]
}

// NewTours binds the tours collection to st.
func NewTours(st store.Store, opts ...collection.Option) *Tours {
	return &Tours{records[model.Tour]{c: collection.New[model.Tour](st, TourSchema, opts...)}}
}

// Active returns tours visible to customers.
func (t *Tours) Active(ctx context.Context) []model.Tour {
	return t.ByStatus(ctx, model.TourActive)
}

// SetActive toggles a tour between active and inactive.
func (t *Tours) SetActive(ctx context.Context, id string, active bool) bool {
	s := model.TourInactive
	if active {
		s = model.TourActive
	}
	return t.setStatus(ctx, id, s, nil)
}

// InCategory filters tours by category client-side.
func (t *Tours) InCategory(ctx context.Context, category string) []model.Tour {
	return t.c.Where(ctx, func(r model.Tour) bool { return r.Category == category })
}
