package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/store"
)

// SettingsSchema describes the site settings singleton.
var SettingsSchema = collection.Schema{
	Path:      model.PathSettings,
	Singleton: true,
}

// Settings reads and replaces the site-wide settings object.
type Settings struct {
	c *collection.Client[model.Settings]
}

// NewSettings binds the settings singleton to st.
func NewSettings(st store.Store, opts ...collection.Option) *Settings {
	return &Settings{c: collection.New[model.Settings](st, SettingsSchema, opts...)}
}

// Get returns the stored settings, or nil when none were saved or the
// store could not be read.
func (s *Settings) Get(ctx context.Context) *model.Settings {
	return s.c.Load(ctx)
}

// Set replaces the whole settings object.
func (s *Settings) Set(ctx context.Context, v model.Settings) bool {
	return s.c.Store(ctx, v)
}
