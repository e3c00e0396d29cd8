package notify

import "github.com/iliyamo/event-seat-reservation/internal/model"

const (
	TypeSeatsChanged    = "seats_changed"
	TypePresenceChanged = "presence_changed"
)

// Presence is an advisory hint that an observer is looking at a seat.
// It never carries reservation state.
type Presence struct {
	SeatID     string `json:"seat_id"`
	ObserverID string `json:"observer_id"`
	Entering   bool   `json:"entering"`
}

// Message is what observers receive.  Seats and Version are set for
// seats_changed, Presence for presence_changed.  Versions of one event
// increase with every delta.
type Message struct {
	Type     string            `json:"type"`
	EventID  string            `json:"event_id"`
	Version  uint64            `json:"version,omitempty"`
	Seats    []model.SeatDelta `json:"seats,omitempty"`
	Presence *Presence         `json:"presence,omitempty"`
}
