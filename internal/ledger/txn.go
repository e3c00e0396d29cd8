package ledger

import (
	"time"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// Txn is an open critical section over one ledger.  Transitions apply
// immediately but keep a pre-image of every touched seat so Rollback can
// undo them, e.g. when the store commit fails.
type Txn struct {
	l     *Ledger
	undo  map[int]model.Seat
	order []int
	done  bool
}

func (t *Txn) touch(i int) {
	if _, ok := t.undo[i]; ok {
		return
	}
	t.undo[i] = t.l.seats[i]
	t.order = append(t.order, i)
}

// Event returns the event configuration.
func (t *Txn) Event() model.Event { return t.l.event }

// Version returns the store version of the committed state.
func (t *Txn) Version() uint64 { return t.l.version }

// Seat returns the current state of the seat with the given id.
func (t *Txn) Seat(id string) (model.Seat, bool) {
	i, ok := t.l.index[id]
	if !ok {
		return model.Seat{}, false
	}
	return t.l.seats[i], true
}

// Snapshot copies every seat.
func (t *Txn) Snapshot() []model.Seat {
	out := make([]model.Seat, len(t.l.seats))
	copy(out, t.l.seats)
	return out
}

// HeldCount returns how many seats user currently holds.
func (t *Txn) HeldCount(user string) int {
	n := 0
	for _, s := range t.l.seats {
		if s.Status == model.StatusHeld && s.Holder == user {
			n++
		}
	}
	return n
}

// TryHold holds every seat in ids for user.  Seats already held by user
// count as granted.  If any seat conflicts nothing is applied and the
// conflicts are returned with a nil grant list.
func (t *Txn) TryHold(ids []string, user string, now time.Time) ([]string, []model.Conflict) {
	ids = dedupe(ids)
	var conflicts []model.Conflict
	apply := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := t.l.index[id]
		if !ok {
			conflicts = append(conflicts, model.Conflict{SeatID: id, Reason: model.ReasonNotFound})
			continue
		}
		s := t.l.seats[i]
		switch s.Status {
		case model.StatusSold:
			conflicts = append(conflicts, model.Conflict{SeatID: id, Reason: model.ReasonAlreadySold})
		case model.StatusHeld:
			if s.Holder != user {
				conflicts = append(conflicts, model.Conflict{SeatID: id, Reason: model.ReasonLockedByOther})
			}
		default:
			apply = append(apply, i)
		}
	}
	if len(conflicts) > 0 {
		return nil, conflicts
	}
	at := now.UTC()
	for _, i := range apply {
		t.touch(i)
		s := &t.l.seats[i]
		s.Status = model.StatusHeld
		s.Holder = user
		s.HeldAt = &at
	}
	return ids, nil
}

// Release returns every seat in ids held by user to the pool.  Seats not
// held by user are skipped without error.
func (t *Txn) Release(ids []string, user string) []string {
	released := []string{}
	for _, id := range dedupe(ids) {
		i, ok := t.l.index[id]
		if !ok {
			continue
		}
		s := t.l.seats[i]
		if s.Status != model.StatusHeld || s.Holder != user {
			continue
		}
		t.free(i)
		released = append(released, id)
	}
	return released
}

// ConfirmSale sells every seat in ids to user.  All of them must be held
// by user; otherwise nothing changes and the conflicts are returned.
func (t *Txn) ConfirmSale(ids []string, user string, now time.Time) ([]string, []model.Conflict) {
	ids = dedupe(ids)
	var conflicts []model.Conflict
	apply := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := t.l.index[id]
		if !ok {
			conflicts = append(conflicts, model.Conflict{SeatID: id, Reason: model.ReasonNotFound})
			continue
		}
		s := t.l.seats[i]
		if s.Status != model.StatusHeld || s.Holder != user {
			conflicts = append(conflicts, model.Conflict{SeatID: id, Reason: model.ReasonNotHeldByUser})
			continue
		}
		apply = append(apply, i)
	}
	if len(conflicts) > 0 {
		return nil, conflicts
	}
	at := now.UTC()
	for _, i := range apply {
		t.touch(i)
		s := &t.l.seats[i]
		s.Status = model.StatusSold
		s.Buyer = user
		s.SoldAt = &at
		s.Holder = ""
		s.HeldAt = nil
	}
	return ids, nil
}

// SweepExpired frees every hold that is at least hold old at now and
// returns the freed seat ids in seat order.
func (t *Txn) SweepExpired(now time.Time, hold time.Duration) []string {
	var idx []int
	for i, s := range t.l.seats {
		if s.Status != model.StatusHeld || s.HeldAt == nil {
			continue
		}
		if now.Before(s.HeldAt.Add(hold)) {
			continue
		}
		t.free(i)
		idx = append(idx, i)
	}
	return sortedIDs(t.l, idx)
}

func (t *Txn) free(i int) {
	t.touch(i)
	s := &t.l.seats[i]
	s.Status = model.StatusAvailable
	s.Holder = ""
	s.HeldAt = nil
}

// Dirty reports whether any seat changed in this transaction.
func (t *Txn) Dirty() bool {
	for _, i := range t.order {
		if t.undo[i] != t.l.seats[i] {
			return true
		}
	}
	return false
}

// Changed returns the deltas of all seats whose state differs from the
// pre-image, in the order they were first touched.
func (t *Txn) Changed() []model.SeatDelta {
	out := make([]model.SeatDelta, 0, len(t.order))
	for _, i := range t.order {
		if t.undo[i] == t.l.seats[i] {
			continue
		}
		out = append(out, model.DeltaOf(t.l.seats[i]))
	}
	return out
}

// Reload replaces the whole seat state, e.g. after the store reported
// that another writer moved the version on.  The undo log is dropped.
func (t *Txn) Reload(seats []model.Seat, version uint64) error {
	if err := t.l.load(seats, version); err != nil {
		return err
	}
	t.undo = make(map[int]model.Seat)
	t.order = nil
	return nil
}

// Commit keeps all changes, records the new store version and releases
// the event lock.
func (t *Txn) Commit(version uint64) {
	if t.done {
		return
	}
	t.l.version = version
	t.finish()
}

// Rollback restores every touched seat and releases the event lock.  It
// is a no-op after Commit, so it is safe to defer.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	for i, s := range t.undo {
		t.l.seats[i] = s
	}
	t.finish()
}

func (t *Txn) finish() {
	t.done = true
	t.undo = nil
	t.order = nil
	<-t.l.sem
}
