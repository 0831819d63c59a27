package service

import (
	"context"

	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// BookingSchema describes records under bookings.
var BookingSchema = collection.Schema{
	Path:          model.PathBookings,
	Required:      []string{"tourId"},
	DefaultStatus: model.BookingPending,
	Transitions:   status.Bookings,
}

// Bookings manages tour reservations.
type Bookings struct {
	records[model.Booking]
}

// NewBookings binds the bookings collection to st.
func NewBookings(st store.Store, opts ...collection.Option) *Bookings {
	return &Bookings{records[model.Booking]{c: collection.New[model.Booking](st, BookingSchema, opts...)}}
}

// Approve confirms a booking.
func (b *Bookings) Approve(ctx context.Context, id, notes string) bool {
	return b.setStatus(ctx, id, model.BookingConfirmed, map[string]string{
		"confirmedAt": b.c.Now(),
		"adminNotes":  notes,
	})
}

// Reject declines a booking.
func (b *Bookings) Reject(ctx context.Context, id, reason, notes string) bool {
	return b.setStatus(ctx, id, model.BookingRejected, map[string]string{
		"rejectedAt":      b.c.Now(),
		"rejectionReason": reason,
		"adminNotes":      notes,
	})
}

// Cancel withdraws a booking.
func (b *Bookings) Cancel(ctx context.Context, id, reason string) bool {
	return b.setStatus(ctx, id, model.BookingCancelled, map[string]string{
		"cancelledAt":  b.c.Now(),
		"cancelReason": reason,
	})
}

// Pending returns bookings awaiting a decision.
func (b *Bookings) Pending(ctx context.Context) []model.Booking {
	return b.ByStatus(ctx, model.BookingPending)
}

// ForTour returns the bookings of one tour.
func (b *Bookings) ForTour(ctx context.Context, tourID string) []model.Booking {
	return b.c.QueryEqual(ctx, "tourId", tourID)
}

// ForCustomer returns the bookings made with email.
func (b *Bookings) ForCustomer(ctx context.Context, email string) []model.Booking {
	return b.c.QueryEqual(ctx, "customerEmail", email)
}
