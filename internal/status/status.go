// Package status holds the legal status transitions of each entity.
//
// The tables are advisory. Callers consult them to log unusual transitions,
// but an administrator may still move a record to any status.
package status

import (
	"sort"

	"github.com/looplab/fsm"

	"github.com/and161185/toursync/internal/model"
)

// Table is a named set of transitions between status values.
type Table struct {
	name   string
	events fsm.Events
}

// NewTable builds a table from events.
func NewTable(name string, events fsm.Events) *Table {
	return &Table{name: name, events: events}
}

// Name returns the entity the table describes.
func (t *Table) Name() string { return t.name }

// Event returns the event that moves a record from one status to another.
func (t *Table) Event(from, to string) (string, bool) {
	if t == nil || from == "" {
		return "", false
	}
	machine := fsm.NewFSM(from, t.events, nil)
	for _, e := range t.events {
		if e.Dst == to && machine.Can(e.Name) {
			return e.Name, true
		}
	}
	return "", false
}

// CanTransition reports whether from → to is in the table. Staying in the
// same status and leaving an unset status are always allowed.
func (t *Table) CanTransition(from, to string) bool {
	if t == nil || from == "" || from == to {
		return true
	}
	_, ok := t.Event(from, to)
	return ok
}

// Next lists the statuses reachable from a status, sorted.
func (t *Table) Next(from string) []string {
	if t == nil {
		return nil
	}
	machine := fsm.NewFSM(from, t.events, nil)
	seen := make(map[string]struct{})
	for _, e := range t.events {
		if machine.Can(e.Name) {
			seen[e.Dst] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Terminal reports whether no transition leaves the status.
func (t *Table) Terminal(state string) bool {
	return len(t.Next(state)) == 0
}

// Event names shared by the tables.
const (
	EventApprove    = "approve"
	EventReject     = "reject"
	EventCancel     = "cancel"
	EventSubmit     = "submit"
	EventActivate   = "activate"
	EventDeactivate = "deactivate"
	EventSend       = "send"
	EventFail       = "fail"
	EventRetry      = "retry"
)

var (
	// Bookings: pending resolves once to a terminal status.
	Bookings = NewTable(model.PathBookings, fsm.Events{
		{Name: EventApprove, Src: []string{model.BookingPending}, Dst: model.BookingConfirmed},
		{Name: EventReject, Src: []string{model.BookingPending}, Dst: model.BookingRejected},
		{Name: EventCancel, Src: []string{model.BookingPending}, Dst: model.BookingCancelled},
	})

	// Blogs: drafts are submitted for moderation, then approved or rejected.
	Blogs = NewTable(model.PathBlogs, fsm.Events{
		{Name: EventSubmit, Src: []string{model.BlogDraft}, Dst: model.BlogPending},
		{Name: EventApprove, Src: []string{model.BlogPending}, Dst: model.BlogApproved},
		{Name: EventReject, Src: []string{model.BlogPending}, Dst: model.BlogRejected},
	})

	Tours = NewTable(model.PathTours, fsm.Events{
		{Name: EventActivate, Src: []string{model.TourInactive}, Dst: model.TourActive},
		{Name: EventDeactivate, Src: []string{model.TourActive}, Dst: model.TourInactive},
	})

	PopupAds = NewTable(model.PathPopupAds, fsm.Events{
		{Name: EventActivate, Src: []string{model.AdInactive}, Dst: model.AdActive},
		{Name: EventDeactivate, Src: []string{model.AdActive}, Dst: model.AdInactive},
	})

	Emails = NewTable(model.PathEmailNotifications, fsm.Events{
		{Name: EventSend, Src: []string{model.EmailQueued}, Dst: model.EmailSent},
		{Name: EventFail, Src: []string{model.EmailQueued}, Dst: model.EmailFailed},
		{Name: EventRetry, Src: []string{model.EmailFailed}, Dst: model.EmailQueued},
	})
)
