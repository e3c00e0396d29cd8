package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/ledger"
	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/repository"
)

const testEvent = "ev-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type deltaRecorder struct {
	// onPublish, when set before the first operation, runs ahead of
	// recording each delta.
	onPublish func()

	mu       sync.Mutex
	deltas   [][]model.SeatDelta
	versions []uint64
}

func (r *deltaRecorder) PublishSeatDelta(eventID string, version uint64, seats []model.SeatDelta) {
	if r.onPublish != nil {
		r.onPublish()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, seats)
	r.versions = append(r.versions, version)
}

func (r *deltaRecorder) all() [][]model.SeatDelta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]model.SeatDelta(nil), r.deltas...)
}

// replay applies the recorded deltas in delivery order, the way a live
// client builds its view.
func (r *deltaRecorder) replay() map[string]model.SeatDelta {
	view := map[string]model.SeatDelta{}
	for _, d := range r.all() {
		for _, s := range d {
			view[s.ID] = s
		}
	}
	return view
}

func (r *deltaRecorder) allVersions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.versions...)
}

type bookingRecorder struct {
	ch chan model.Booking
}

func (r *bookingRecorder) BookingConfirmed(ctx context.Context, ev model.Event, b model.Booking) error {
	r.ch <- b
	return nil
}

// flakyStore fails SaveSeats the first failures times.
type flakyStore struct {
	*repository.MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) SaveSeats(ctx context.Context, eventID string, seats []model.Seat, expect uint64, b *model.Booking) (uint64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return 0, errors.New("connection reset")
	}
	return f.MemoryStore.SaveSeats(ctx, eventID, seats, expect, b)
}

type fixture struct {
	c     *Coordinator
	store *flakyStore
	clock *clock
	pub   *deltaRecorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store: &flakyStore{MemoryStore: repository.NewMemoryStore()},
		clock: &clock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)},
		pub:   &deltaRecorder{},
	}
	opts.Now = f.clock.Now
	if opts.HoldDuration == 0 {
		opts.HoldDuration = 5 * time.Minute
	}
	opts.RetryBackoff = time.Millisecond
	f.c = NewCoordinator(ledger.NewRegistry(), f.store, f.pub, opts)

	seats := []model.Seat{
		model.NewSeat("A", 1, model.TierPremium),
		model.NewSeat("A", 2, model.TierStandard),
		model.NewSeat("A", 3, model.TierStandard),
		model.NewSeat("A", 4, model.TierEconomy),
	}
	_, err := f.c.CreateEvent(context.Background(), model.Event{ID: testEvent, Title: "Gala"}, seats)
	require.NoError(t, err)
	return f
}

func (f *fixture) seat(t *testing.T, id string) model.Seat {
	t.Helper()
	m, err := f.c.Seats(context.Background(), testEvent)
	require.NoError(t, err)
	for _, s := range m.Seats {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("seat %s not found", id)
	return model.Seat{}
}

func conflictsOf(t *testing.T, err error) []model.Conflict {
	t.Helper()
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	return ce.Conflicts
}

func TestHold_ThenBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	res, err := f.c.Hold(ctx, testEvent, []string{"A1", "A2"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, res.SeatIDs)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), res.ExpiresAt)

	b, err := f.c.Book(ctx, testEvent, []string{"A1", "A2"}, "alice", model.BookingMetadata{ContactEmail: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, []string{"A1", "A2"}, b.SeatIDs)
	assert.Equal(t, model.TierPremium.PriceCents()+model.TierStandard.PriceCents(), b.TotalAmountCents)

	s := f.seat(t, "A1")
	assert.Equal(t, model.StatusSold, s.Status)
	assert.Equal(t, "alice", s.Buyer)

	stored, err := f.c.MyBookings(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID, stored[0].ID)

	deltas := f.pub.all()
	require.Len(t, deltas, 2)
	assert.Len(t, deltas[0], 2)
	assert.Equal(t, model.StatusHeld, deltas[0][0].Status)
	assert.Equal(t, model.StatusSold, deltas[1][0].Status)
}

func TestHold_ConflictLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.c.Hold(ctx, testEvent, []string{"A2"}, "bob")
	require.NoError(t, err)

	_, err = f.c.Hold(ctx, testEvent, []string{"A1", "A2", "Z9"}, "alice")
	got := conflictsOf(t, err)
	assert.ElementsMatch(t, []model.Conflict{
		{SeatID: "A2", Reason: model.ReasonLockedByOther},
		{SeatID: "Z9", Reason: model.ReasonNotFound},
	}, got)

	assert.Equal(t, model.StatusAvailable, f.seat(t, "A1").Status)
	assert.Equal(t, "bob", f.seat(t, "A2").Holder)
	assert.Len(t, f.pub.all(), 1, "failed hold must not publish")
}

func TestHold_LimitCountsExistingHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxSeatsPerHold: 3})

	_, err := f.c.Hold(ctx, testEvent, []string{"A1", "A2"}, "alice")
	require.NoError(t, err)

	_, err = f.c.Hold(ctx, testEvent, []string{"A3", "A4"}, "alice")
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A3").Status)

	// re-requesting seats already held does not count twice
	_, err = f.c.Hold(ctx, testEvent, []string{"A1", "A2", "A3"}, "alice")
	assert.NoError(t, err)
}

func TestHold_ConflictsReportedBeforeLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxSeatsPerHold: 2})

	_, err := f.c.Hold(ctx, testEvent, []string{"A4"}, "bob")
	require.NoError(t, err)
	_, err = f.c.Book(ctx, testEvent, []string{"A4"}, "bob", model.BookingMetadata{})
	require.NoError(t, err)
	_, err = f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)

	_, err = f.c.Hold(ctx, testEvent, []string{"A2", "A4", "Z9"}, "alice")
	got := conflictsOf(t, err)
	assert.ElementsMatch(t, []model.Conflict{
		{SeatID: "A4", Reason: model.ReasonAlreadySold},
		{SeatID: "Z9", Reason: model.ReasonNotFound},
	}, got)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A2").Status)

	// all seats available but one too many
	_, err = f.c.Hold(ctx, testEvent, []string{"A2", "A3"}, "alice")
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A2").Status)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A3").Status)
}

func TestHold_NoSeats(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.c.Hold(context.Background(), testEvent, []string{"", ""}, "alice")
	assert.ErrorIs(t, err, ErrNoSeats)
}

func TestUnknownEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.c.Hold(ctx, "nope", []string{"A1"}, "alice")
	assert.ErrorIs(t, err, ErrEventNotFound)
	_, err = f.c.Seats(ctx, "nope")
	assert.ErrorIs(t, err, ErrEventNotFound)
	_, err = f.c.Release(ctx, "nope", []string{"A1"}, "alice")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestCreateEvent_Duplicate(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.c.CreateEvent(context.Background(), model.Event{ID: testEvent}, []model.Seat{model.NewSeat("A", 1, model.TierStandard)})
	assert.ErrorIs(t, err, ErrEventExists)

	_, err = f.c.CreateEvent(context.Background(), model.Event{ID: "empty"}, nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestBook_WithoutHoldConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "bob")
	require.NoError(t, err)

	_, err = f.c.Book(ctx, testEvent, []string{"A1", "A2"}, "alice", model.BookingMetadata{})
	got := conflictsOf(t, err)
	assert.ElementsMatch(t, []model.Conflict{
		{SeatID: "A1", Reason: model.ReasonNotHeldByUser},
		{SeatID: "A2", Reason: model.ReasonNotHeldByUser},
	}, got)
	assert.Equal(t, "bob", f.seat(t, "A1").Holder)

	bookings, err := f.c.MyBookings(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestExpiredHoldCannotBeBooked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{HoldDuration: time.Minute})

	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, err = f.c.Book(ctx, testEvent, []string{"A1"}, "alice", model.BookingMetadata{})
	got := conflictsOf(t, err)
	assert.Equal(t, []model.Conflict{{SeatID: "A1", Reason: model.ReasonNotHeldByUser}}, got)
}

func TestHold_LazilyReclaimsExpiredHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{HoldDuration: time.Minute})

	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "bob")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", f.seat(t, "A1").Holder)
}

func TestRelease_OnlyCallersHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)
	_, err = f.c.Hold(ctx, testEvent, []string{"A2"}, "bob")
	require.NoError(t, err)

	released, err := f.c.Release(ctx, testEvent, []string{"A1", "A2", "A9"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, released)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A1").Status)
	assert.Equal(t, "bob", f.seat(t, "A2").Holder)

	released, err = f.c.Release(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Len(t, f.pub.all(), 3, "no-op release must not publish")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{HoldDuration: time.Minute})
	_, err := f.c.Hold(ctx, testEvent, []string{"A1", "A2"}, "alice")
	require.NoError(t, err)

	f.clock.Advance(59 * time.Second)
	expired, err := f.c.Sweep(ctx, testEvent)
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.clock.Advance(time.Second)
	expired, err = f.c.Sweep(ctx, testEvent)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, expired)
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A1").Status)
}

func TestStoreFailure_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, Options{PersistRetries: 3})
	f.store.failures = 2

	_, err := f.c.Hold(context.Background(), testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.calls)
	assert.Equal(t, model.StatusHeld, f.seat(t, "A1").Status)
}

func TestStoreFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{PersistRetries: 2})
	f.store.failures = 2

	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Retryable(err))
	assert.Equal(t, model.StatusAvailable, f.seat(t, "A1").Status)
	assert.Empty(t, f.pub.all())

	rec, err := f.store.LoadEvent(ctx, testEvent)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Version)
}

func TestVersionConflict_ReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	// another writer moves the stored state ahead
	rec, err := f.store.LoadEvent(ctx, testEvent)
	require.NoError(t, err)
	now := f.clock.Now()
	rec.Seats[0].Status = model.StatusSold
	rec.Seats[0].Buyer = "carol"
	rec.Seats[0].SoldAt = &now
	_, err = f.store.MemoryStore.SaveSeats(ctx, testEvent, rec.Seats, rec.Version, nil)
	require.NoError(t, err)

	_, err = f.c.Hold(ctx, testEvent, []string{"A2"}, "alice")
	assert.ErrorIs(t, err, ErrBusy)

	assert.Equal(t, "carol", f.seat(t, "A1").Buyer)
	_, err = f.c.Hold(ctx, testEvent, []string{"A2"}, "alice")
	assert.NoError(t, err)
}

func TestHold_BusyWhenLockNotAcquired(t *testing.T) {
	f := newFixture(t, Options{LockTimeout: 20 * time.Millisecond})
	l, ok := f.c.registry.Get(testEvent)
	require.True(t, ok)
	tx, err := l.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = f.c.Hold(context.Background(), testEvent, []string{"A1"}, "alice")
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, Retryable(err))
}

func TestBook_PublishesBookingEvent(t *testing.T) {
	ctx := context.Background()
	rec := &bookingRecorder{ch: make(chan model.Booking, 1)}
	f := newFixture(t, Options{Bookings: rec})

	_, err := f.c.Hold(ctx, testEvent, []string{"A4"}, "alice")
	require.NoError(t, err)
	b, err := f.c.Book(ctx, testEvent, []string{"A4"}, "alice", model.BookingMetadata{})
	require.NoError(t, err)

	select {
	case got := <-rec.ch:
		assert.Equal(t, b.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("booking event not published")
	}
}

func TestConcurrentHolds_OneWinner(t *testing.T) {
	f := newFixture(t, Options{})
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.c.Hold(context.Background(), testEvent, []string{"A3"}, u); err == nil {
				mu.Lock()
				winners = append(winners, u)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], f.seat(t, "A3").Holder)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "alice")
	require.NoError(t, err)

	c2 := NewCoordinator(ledger.NewRegistry(), f.store, nil, Options{Now: f.clock.Now})
	require.NoError(t, c2.Restore(ctx))
	m, err := c2.Seats(ctx, testEvent)
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Seats[0].Holder)
	assert.Equal(t, uint64(1), m.Version)

	// the restored ledger continues from the stored version
	_, err = c2.Hold(ctx, testEvent, []string{"A2"}, "bob")
	assert.NoError(t, err)
}

func assertViewMatchesLedger(t *testing.T, f *fixture) {
	t.Helper()
	m, err := f.c.Seats(context.Background(), testEvent)
	require.NoError(t, err)
	view := f.pub.replay()
	for _, seat := range m.Seats {
		d, seen := view[seat.ID]
		if !seen {
			assert.Equal(t, model.StatusAvailable, seat.Status, "seat %s changed without a delta", seat.ID)
			continue
		}
		assert.Equal(t, model.DeltaOf(seat), d, "seat %s", seat.ID)
	}
	versions := f.pub.allVersions()
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "delta versions out of order")
	}
	if len(versions) > 0 {
		assert.Equal(t, m.Version, versions[len(versions)-1])
	}
}

func TestDeltas_DeliveredInCommitOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{LockTimeout: 5 * time.Second})

	entered := make(chan struct{})
	resume := make(chan struct{})
	var once sync.Once
	f.pub.onPublish = func() {
		stall := false
		once.Do(func() { stall = true })
		if stall {
			close(entered)
			<-resume
		}
	}

	holdErr := make(chan error, 1)
	go func() {
		_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "u1")
		holdErr <- err
	}()
	<-entered

	// these queue behind the stalled delivery
	done := make(chan error, 1)
	go func() {
		if _, err := f.c.Release(ctx, testEvent, []string{"A1"}, "u1"); err != nil {
			done <- err
			return
		}
		_, err := f.c.Hold(ctx, testEvent, []string{"A1"}, "u2")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(resume)

	require.NoError(t, <-holdErr)
	require.NoError(t, <-done)

	assert.Equal(t, "u2", f.seat(t, "A1").Holder)
	view := f.pub.replay()
	assert.Equal(t, model.SeatDelta{ID: "A1", Status: model.StatusHeld, Holder: "u2"}, view["A1"])
	assert.Equal(t, []uint64{1, 2, 3}, f.pub.allVersions())
	assertViewMatchesLedger(t, f)
}

func TestDeltas_ConsistentWithLedgerUnderConcurrency(t *testing.T) {
	f := newFixture(t, Options{MaxSeatsPerHold: 4, LockTimeout: 5 * time.Second})
	seats := []string{"A1", "A2", "A3", "A4"}
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for round := 0; round < 20; round++ {
				id := seats[(i+round)%len(seats)]
				if _, err := f.c.Hold(ctx, testEvent, []string{id}, u); err != nil {
					continue
				}
				if (i+round)%5 == 0 {
					_, _ = f.c.Book(ctx, testEvent, []string{id}, u, model.BookingMetadata{})
				} else {
					_, _ = f.c.Release(ctx, testEvent, []string{id}, u)
				}
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, f.pub.all())
	assertViewMatchesLedger(t, f)
}
