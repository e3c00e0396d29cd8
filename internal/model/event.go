package model

import "time"

const (
	// DefaultMaxSeatsPerHold caps how many seats one user may hold on
	// a single event at the same time.
	DefaultMaxSeatsPerHold = 6
	// DefaultHoldDuration is how long a hold lives before the sweeper
	// returns the seat to the pool.
	DefaultHoldDuration = 5 * time.Minute
)

// Event is a scheduled occurrence owning its own seat inventory.  The
// seat collection is created together with the event and only seat
// status fields change afterwards.
//
// Fields:
//  ID              – event identifier chosen by the creator.
//  Title           – display title.
//  Venue           – venue name.
//  StartsAt        – date and time the event starts (UTC).
//  MaxSeatsPerHold – per-user cap on simultaneously held seats.
//  HoldDuration    – lifetime of a hold.
//  CreatedAt       – creation timestamp.
type Event struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Venue           string        `json:"venue"`
	StartsAt        time.Time     `json:"starts_at"`
	MaxSeatsPerHold int           `json:"max_seats_per_hold"`
	HoldDuration    time.Duration `json:"hold_duration"`
	CreatedAt       time.Time     `json:"created_at"`
}

// WithDefaults fills zero configuration values with the supplied
// defaults.
func (e Event) WithDefaults(maxSeats int, hold time.Duration) Event {
	if e.MaxSeatsPerHold <= 0 {
		e.MaxSeatsPerHold = maxSeats
	}
	if e.HoldDuration <= 0 {
		e.HoldDuration = hold
	}
	return e
}
