package repository

import (
	"context"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// EventRecord is the persisted form of one event: its configuration and
// its seat array.  Hold state lives inline on the seats; there is no
// separate lock table.
type EventRecord struct {
	Event   model.Event
	Seats   []model.Seat
	Version uint64
}

// Store is the persistence boundary of the reservation service.
type Store interface {
	// CreateEvent stores a new event at version 0.
	CreateEvent(ctx context.Context, rec EventRecord) error
	// ListEvents returns the configuration of every event ordered by
	// start time.
	ListEvents(ctx context.Context) ([]model.Event, error)
	// LoadEvent returns one event with its seats.
	LoadEvent(ctx context.Context, id string) (EventRecord, error)
	// LoadAll returns every event with its seats.
	LoadAll(ctx context.Context) ([]EventRecord, error)
	// SaveSeats replaces the seat array of the event if the stored
	// version equals expect and returns the new version.  When booking
	// is non-nil it is stored in the same transaction.
	SaveSeats(ctx context.Context, eventID string, seats []model.Seat, expect uint64, booking *model.Booking) (uint64, error)
	// ListBookings returns the bookings of a user, newest first.
	ListBookings(ctx context.Context, userID string) ([]model.Booking, error)
}
