// Package service holds one adapter per collection. Each adapter fixes the
// path and schema of a collection client and adds entity-specific operations.
package service

import (
	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/store"
)

// Services bundles every adapter over one store handle.
type Services struct {
	Tours         *Tours
	Blogs         *Blogs
	Bookings      *Bookings
	Notifications *Notifications
	Settings      *Settings
	PopupAds      *PopupAds
	Emails        *Emails
}

// New builds all adapters. A nil st yields adapters that report the store as
// unavailable on every call.
func New(st store.Store, opts ...collection.Option) *Services {
	return &Services{
		Tours:         NewTours(st, opts...),
		Blogs:         NewBlogs(st, opts...),
		Bookings:      NewBookings(st, opts...),
		Notifications: NewNotifications(st, opts...),
		Settings:      NewSettings(st, opts...),
		PopupAds:      NewPopupAds(st, opts...),
		Emails:        NewEmails(st, opts...),
	}
}
