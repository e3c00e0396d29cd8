package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// MemoryStore keeps everything in process memory.  It is used for local
// development (STORE=memory) and tests.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]EventRecord
	bookings []model.Booking
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]EventRecord)}
}

func copyRecord(rec EventRecord) EventRecord {
	seats := make([]model.Seat, len(rec.Seats))
	copy(seats, rec.Seats)
	rec.Seats = seats
	return rec
}

func (m *MemoryStore) CreateEvent(ctx context.Context, rec EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[rec.Event.ID]; ok {
		return ErrConflict
	}
	rec.Version = 0
	m.events[rec.Event.ID] = copyRecord(rec)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, 0, len(m.events))
	for _, rec := range m.events {
		out = append(out, rec.Event)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

func (m *MemoryStore) LoadEvent(ctx context.Context, id string) (EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.events[id]
	if !ok {
		return EventRecord{}, ErrEventNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) LoadAll(ctx context.Context) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventRecord, 0, len(m.events))
	for _, rec := range m.events {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.ID < out[j].Event.ID })
	return out, nil
}

func (m *MemoryStore) SaveSeats(ctx context.Context, eventID string, seats []model.Seat, expect uint64, booking *model.Booking) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.events[eventID]
	if !ok {
		return 0, ErrEventNotFound
	}
	if rec.Version != expect {
		return 0, ErrVersionConflict
	}
	rec.Seats = seats
	rec.Version++
	m.events[eventID] = copyRecord(rec)
	if booking != nil {
		m.bookings = append(m.bookings, *booking)
	}
	return rec.Version, nil
}

func (m *MemoryStore) ListBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for i := len(m.bookings) - 1; i >= 0; i-- {
		if m.bookings[i].UserID == userID {
			out = append(out, m.bookings[i])
		}
	}
	return out, nil
}
