package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	var seats []model.Seat
	for _, row := range []string{"A", "B", "C"} {
		for n := uint32(1); n <= 4; n++ {
			seats = append(seats, model.NewSeat(row, n, model.TierStandard))
		}
	}
	l, err := New(model.Event{ID: "e1", MaxSeatsPerHold: 6, HoldDuration: 5 * time.Minute}, seats, 0)
	require.NoError(t, err)
	return l
}

func begin(t *testing.T, l *Ledger) *Txn {
	t.Helper()
	tx, err := l.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func seat(t *testing.T, l *Ledger, id string) model.Seat {
	t.Helper()
	tx := begin(t, l)
	defer tx.Rollback()
	s, ok := tx.Seat(id)
	require.True(t, ok, "seat %s", id)
	return s
}

func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	seats, _, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	counts := map[model.SeatStatus]int{}
	for _, s := range seats {
		assert.True(t, s.Consistent(), "seat %s inconsistent: %+v", s.ID, s)
		counts[s.Status]++
	}
	assert.Equal(t, len(seats), counts[model.StatusAvailable]+counts[model.StatusHeld]+counts[model.StatusSold])
}

func TestNew_DuplicateSeat(t *testing.T) {
	seats := []model.Seat{model.NewSeat("A", 1, model.TierEconomy), model.NewSeat("A", 1, model.TierEconomy)}
	_, err := New(model.Event{ID: "e"}, seats, 0)
	assert.ErrorIs(t, err, ErrDuplicateSeat)
}

func TestTryHold_Success(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	granted, conflicts := tx.TryHold([]string{"A1", "A2", "A1"}, "u1", t0)
	tx.Commit(1)

	assert.Empty(t, conflicts)
	assert.Equal(t, []string{"A1", "A2"}, granted)
	for _, id := range granted {
		s := seat(t, l, id)
		assert.Equal(t, model.StatusHeld, s.Status)
		assert.Equal(t, "u1", s.Holder)
		require.NotNil(t, s.HeldAt)
		assert.True(t, s.HeldAt.Equal(t0))
	}
	assertConserved(t, l)
}

func TestTryHold_AllOrNothing(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"A1", "A2"}, "u1", t0)
	tx.Commit(1)

	tx = begin(t, l)
	granted, conflicts := tx.TryHold([]string{"A1", "A3"}, "u2", t0)
	assert.False(t, tx.Dirty())
	tx.Commit(1)

	assert.Nil(t, granted)
	assert.Equal(t, []model.Conflict{{SeatID: "A1", Reason: model.ReasonLockedByOther}}, conflicts)
	assert.Equal(t, model.StatusAvailable, seat(t, l, "A3").Status)
	assert.Equal(t, "u1", seat(t, l, "A1").Holder)
}

func TestTryHold_ConflictReasons(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"B1", "B2"}, "u1", t0)
	tx.ConfirmSale([]string{"B1"}, "u1", t0)
	tx.Commit(1)

	tx = begin(t, l)
	defer tx.Rollback()
	_, conflicts := tx.TryHold([]string{"B1", "B2", "Z9", "B3"}, "u2", t0)
	assert.Equal(t, []model.Conflict{
		{SeatID: "B1", Reason: model.ReasonAlreadySold},
		{SeatID: "B2", Reason: model.ReasonLockedByOther},
		{SeatID: "Z9", Reason: model.ReasonNotFound},
	}, conflicts)
}

func TestTryHold_IdempotentForHolder(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"A1"}, "u1", t0)
	tx.Commit(1)

	tx = begin(t, l)
	granted, conflicts := tx.TryHold([]string{"A1", "A2"}, "u1", t0.Add(time.Minute))
	changed := tx.Changed()
	tx.Commit(2)

	assert.Empty(t, conflicts)
	assert.Equal(t, []string{"A1", "A2"}, granted)
	assert.Equal(t, []model.SeatDelta{{ID: "A2", Status: model.StatusHeld, Holder: "u1"}}, changed)
	assert.True(t, seat(t, l, "A1").HeldAt.Equal(t0), "re-hold must not refresh heldAt")
}

func TestRelease_SkipsSeatsNotHeldByCaller(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"C1"}, "u4", t0)
	tx.TryHold([]string{"C3"}, "u5", t0)
	tx.Commit(1)

	tx = begin(t, l)
	released := tx.Release([]string{"C1", "C2", "C3", "nope"}, "u4")
	tx.Commit(2)

	assert.Equal(t, []string{"C1"}, released)
	assert.Equal(t, model.StatusAvailable, seat(t, l, "C1").Status)
	assert.Equal(t, model.StatusAvailable, seat(t, l, "C2").Status)
	assert.Equal(t, "u5", seat(t, l, "C3").Holder)

	tx = begin(t, l)
	assert.Empty(t, tx.Release([]string{"C1"}, "u4"))
	tx.Rollback()
	assertConserved(t, l)
}

func TestConfirmSale(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"A1", "A2"}, "u1", t0)
	tx.TryHold([]string{"A3"}, "u2", t0)
	tx.Commit(1)

	t.Run("requires every seat held by buyer", func(t *testing.T) {
		tx := begin(t, l)
		sold, conflicts := tx.ConfirmSale([]string{"A1", "A3", "A4", "X1"}, "u1", t0)
		assert.False(t, tx.Dirty())
		tx.Commit(1)
		assert.Nil(t, sold)
		assert.Equal(t, []model.Conflict{
			{SeatID: "A3", Reason: model.ReasonNotHeldByUser},
			{SeatID: "A4", Reason: model.ReasonNotHeldByUser},
			{SeatID: "X1", Reason: model.ReasonNotFound},
		}, conflicts)
		assert.Equal(t, model.StatusHeld, seat(t, l, "A1").Status)
	})

	t.Run("sells held seats", func(t *testing.T) {
		tx := begin(t, l)
		sold, conflicts := tx.ConfirmSale([]string{"A1", "A2"}, "u1", t0.Add(time.Minute))
		tx.Commit(2)
		assert.Empty(t, conflicts)
		assert.Equal(t, []string{"A1", "A2"}, sold)
		s := seat(t, l, "A1")
		assert.Equal(t, model.StatusSold, s.Status)
		assert.Equal(t, "u1", s.Buyer)
		assert.Empty(t, s.Holder)
		assert.Nil(t, s.HeldAt)
	})

	t.Run("sold is terminal", func(t *testing.T) {
		tx := begin(t, l)
		defer tx.Rollback()
		assert.Empty(t, tx.Release([]string{"A1"}, "u1"))
		assert.NotContains(t, tx.SweepExpired(t0.Add(time.Hour), time.Minute), "A1")
		assert.Equal(t, model.StatusSold, seat2(tx, "A1").Status)
	})
	assertConserved(t, l)
}

func seat2(tx *Txn, id string) model.Seat {
	s, _ := tx.Seat(id)
	return s
}

func TestSweepExpired_Boundary(t *testing.T) {
	l := newTestLedger(t)
	hold := 5 * time.Minute
	tx := begin(t, l)
	tx.TryHold([]string{"B1"}, "u3", t0)
	tx.TryHold([]string{"B2"}, "u3", t0.Add(time.Minute))
	tx.Commit(1)

	tx = begin(t, l)
	assert.Empty(t, tx.SweepExpired(t0.Add(hold-time.Nanosecond), hold))
	tx.Commit(1)
	assert.Equal(t, model.StatusHeld, seat(t, l, "B1").Status)

	tx = begin(t, l)
	expired := tx.SweepExpired(t0.Add(hold), hold)
	tx.Commit(2)
	assert.Equal(t, []string{"B1"}, expired)
	assert.Equal(t, model.StatusAvailable, seat(t, l, "B1").Status)
	assert.Equal(t, model.StatusHeld, seat(t, l, "B2").Status)
	assertConserved(t, l)
}

func TestRollback_RestoresSeats(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	tx.TryHold([]string{"A1", "A2"}, "u1", t0)
	tx.Rollback()

	assert.Equal(t, model.StatusAvailable, seat(t, l, "A1").Status)
	assert.Equal(t, model.StatusAvailable, seat(t, l, "A2").Status)
	tx.Rollback() // no-op once finished
}

func TestBegin_TimesOutWhileLocked(t *testing.T) {
	l := newTestLedger(t)
	tx := begin(t, l)
	defer tx.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Begin(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestBegin_OtherEventsDoNotBlock(t *testing.T) {
	a := newTestLedger(t)
	b, err := New(model.Event{ID: "e2"}, []model.Seat{model.NewSeat("A", 1, model.TierPremium)}, 0)
	require.NoError(t, err)

	tx := begin(t, a)
	defer tx.Rollback()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	other, err := b.Begin(ctx)
	require.NoError(t, err)
	other.Rollback()
}

func TestConcurrentHolds_SingleWinnerPerSeat(t *testing.T) {
	l := newTestLedger(t)
	const users = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = map[string][]string{}
	)
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", u)
			tx, err := l.Begin(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			granted, conflicts := tx.TryHold([]string{"A1", "B2"}, user, t0)
			tx.Commit(0)
			if len(conflicts) == 0 {
				mu.Lock()
				for _, id := range granted {
					wins[id] = append(wins[id], user)
				}
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	require.Len(t, wins["A1"], 1)
	require.Len(t, wins["B2"], 1)
	assert.Equal(t, wins["A1"], wins["B2"])
	assert.Equal(t, wins["A1"][0], seat(t, l, "A1").Holder)
	assertConserved(t, l)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	l := newTestLedger(t)
	require.NoError(t, r.Add(l))
	assert.ErrorIs(t, r.Add(l), ErrDuplicateEvent)

	got, ok := r.Get("e1")
	assert.True(t, ok)
	assert.Same(t, l, got)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"e1"}, r.IDs())
	assert.Equal(t, 1, r.Len())
}
