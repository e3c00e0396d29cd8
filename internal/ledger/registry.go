package ledger

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateEvent is returned by Add when a ledger for the event id is
// already registered.
var ErrDuplicateEvent = errors.New("ledger: event already registered")

// Registry maps event ids to their ledgers.  Looking up a ledger never
// waits on any event lock.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]*Ledger)}
}

// Add registers l under its event id.
func (r *Registry) Add(l *Ledger) error {
	id := l.Event().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[id]; ok {
		return ErrDuplicateEvent
	}
	r.ledgers[id] = l
	return nil
}

// Get returns the ledger of the event.
func (r *Registry) Get(eventID string) (*Ledger, bool) {
	r.mu.RLock()
	l, ok := r.ledgers[eventID]
	r.mu.RUnlock()
	return l, ok
}

// IDs lists all registered event ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.ledgers))
	for id := range r.ledgers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered events.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}
