// Package notify fans out seat-state deltas and presence hints to the
// observers of an event.
//
// Observers are grouped in rooms keyed by event id.  The room table is
// copy-on-write: publishers read an immutable snapshot without locking
// while subscribe and unsubscribe build a new table under a mutex.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// Observer receives messages for the rooms it joined.  Deliver must not
// block; a transport that cannot keep up should drop the message and
// return an error.
type Observer interface {
	ID() string
	Deliver(Message) error
}

type rooms map[string][]Observer

// Hub is the change notifier.  The zero value is not usable; call
// NewHub.
type Hub struct {
	mu    sync.Mutex
	rooms atomic.Pointer[rooms]
	log   *log.Logger
}

// NewHub returns a hub without rooms.  lg may be nil.
func NewHub(lg *log.Logger) *Hub {
	if lg == nil {
		lg = log.New("notify")
	}
	h := &Hub{log: lg}
	h.rooms.Store(&rooms{})
	return h
}

// update copies the room table, applies fn and publishes the copy.
func (h *Hub) update(fn func(rooms)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := *h.rooms.Load()
	next := make(rooms, len(cur))
	for id, obs := range cur {
		next[id] = obs
	}
	fn(next)
	h.rooms.Store(&next)
}

// Subscribe adds o to the room of eventID.  Subscribing twice is a
// no-op.
func (h *Hub) Subscribe(eventID string, o Observer) {
	h.update(func(r rooms) {
		for _, cur := range r[eventID] {
			if cur.ID() == o.ID() {
				return
			}
		}
		obs := make([]Observer, len(r[eventID]), len(r[eventID])+1)
		copy(obs, r[eventID])
		r[eventID] = append(obs, o)
	})
}

// Unsubscribe removes o from the room of eventID.
func (h *Hub) Unsubscribe(eventID string, o Observer) {
	h.update(func(r rooms) { remove(r, eventID, o.ID()) })
}

// UnsubscribeAll removes o from every room, typically when its
// connection closes.
func (h *Hub) UnsubscribeAll(o Observer) {
	h.update(func(r rooms) {
		for eventID := range r {
			remove(r, eventID, o.ID())
		}
	})
}

func remove(r rooms, eventID, observerID string) {
	cur := r[eventID]
	obs := make([]Observer, 0, len(cur))
	for _, o := range cur {
		if o.ID() != observerID {
			obs = append(obs, o)
		}
	}
	if len(obs) == 0 {
		delete(r, eventID)
		return
	}
	r[eventID] = obs
}

// Subscribers returns how many observers are in the room of eventID.
func (h *Hub) Subscribers(eventID string) int {
	return len((*h.rooms.Load())[eventID])
}

// PublishSeatDelta sends the changed seats to every observer of the
// event, stamped with the ledger version.  Empty deltas are not sent.
func (h *Hub) PublishSeatDelta(eventID string, version uint64, seats []model.SeatDelta) {
	if len(seats) == 0 {
		return
	}
	h.broadcast(Message{Type: TypeSeatsChanged, EventID: eventID, Version: version, Seats: seats})
}

// PublishPresence sends a presence hint to every observer of the event
// except the one it came from.
func (h *Hub) PublishPresence(eventID, seatID, observerID string, entering bool) {
	h.broadcast(Message{
		Type:     TypePresenceChanged,
		EventID:  eventID,
		Presence: &Presence{SeatID: seatID, ObserverID: observerID, Entering: entering},
	})
}

func (h *Hub) broadcast(m Message) {
	obs := (*h.rooms.Load())[m.EventID]
	for _, o := range obs {
		if m.Presence != nil && o.ID() == m.Presence.ObserverID {
			continue
		}
		if err := o.Deliver(m); err != nil {
			h.log.Warnf("deliver %s to %s on %s: %v", m.Type, o.ID(), m.EventID, err)
		}
	}
}
