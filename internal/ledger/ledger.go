// Package ledger holds the authoritative seat collection of every event
// and the per-event critical section all seat transitions run in.
//
// A Ledger is mutated only through a Txn obtained from Begin.  Holding a
// Txn means holding the event lock: every transition evaluates all
// requested seats and then applies the whole batch or nothing, without
// ever suspending in between.  Ledgers of different events never share
// a lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

var (
	// ErrLockTimeout is returned by Begin when the event lock could not
	// be taken before the context expired.  Callers should retry.
	ErrLockTimeout = errors.New("ledger: event lock not acquired")
	// ErrDuplicateSeat is returned by New when two seats share an id.
	ErrDuplicateSeat = errors.New("ledger: duplicate seat id")
)

// Ledger is the seat collection of one event.
type Ledger struct {
	sem     chan struct{}
	event   model.Event
	seats   []model.Seat
	index   map[string]int
	version uint64
}

// New builds the ledger of event from seats.  version is the store
// version the seats were loaded at (zero for a fresh event).
func New(event model.Event, seats []model.Seat, version uint64) (*Ledger, error) {
	l := &Ledger{sem: make(chan struct{}, 1), event: event}
	if err := l.load(seats, version); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load(seats []model.Seat, version uint64) error {
	index := make(map[string]int, len(seats))
	cp := make([]model.Seat, len(seats))
	for i, s := range seats {
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSeat, s.ID)
		}
		index[s.ID] = i
		cp[i] = s
	}
	l.seats, l.index, l.version = cp, index, version
	return nil
}

// Event returns the event the ledger belongs to.  The configuration is
// fixed at creation so no lock is needed.
func (l *Ledger) Event() model.Event { return l.event }

// Begin takes the event lock and returns a transaction over the seats.
// It waits at most until ctx is done.  The caller must finish the
// transaction with Commit or Rollback.
func (l *Ledger) Begin(ctx context.Context) (*Txn, error) {
	select {
	case l.sem <- struct{}{}:
		return &Txn{l: l, undo: make(map[int]model.Seat)}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

// Snapshot returns a consistent copy of all seats and the version they
// were committed at.
func (l *Ledger) Snapshot(ctx context.Context) ([]model.Seat, uint64, error) {
	tx, err := l.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()
	return tx.Snapshot(), tx.Version(), nil
}

// dedupe drops repeated and empty ids while keeping request order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// sortedIDs returns the ids of seats in seat order; used for
// deterministic sweep output.
func sortedIDs(l *Ledger, idx []int) []string {
	sort.Ints(idx)
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = l.seats[n].ID
	}
	return out
}
