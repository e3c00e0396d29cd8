package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/event-seat-reservation/internal/ledger"
	"github.com/iliyamo/event-seat-reservation/internal/model"
	"github.com/iliyamo/event-seat-reservation/internal/repository"
)

// DeltaPublisher receives the seats changed by a committed transition
// together with the ledger version they were committed at.  It is called
// with the event lock held, so deliveries for one event arrive in commit
// order; implementations must not block.
type DeltaPublisher interface {
	PublishSeatDelta(eventID string, version uint64, seats []model.SeatDelta)
}

// BookingEvents is told about every confirmed booking.  Failures are
// logged and never undo the booking.
type BookingEvents interface {
	BookingConfirmed(ctx context.Context, ev model.Event, b model.Booking) error
}

// ReservationService is what request handlers use.
type ReservationService interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	CreateEvent(ctx context.Context, ev model.Event, seats []model.Seat) (model.Event, error)
	Seats(ctx context.Context, eventID string) (*SeatMap, error)
	Hold(ctx context.Context, eventID string, seatIDs []string, userID string) (*HoldResult, error)
	Release(ctx context.Context, eventID string, seatIDs []string, userID string) ([]string, error)
	Book(ctx context.Context, eventID string, seatIDs []string, userID string, meta model.BookingMetadata) (*model.Booking, error)
	MyBookings(ctx context.Context, userID string) ([]model.Booking, error)
}

// SeatMap is a consistent copy of an event's seats.  Version matches the
// version stamped on live deltas, so a client can drop deltas it already
// has in the map.
type SeatMap struct {
	Event   model.Event
	Seats   []model.Seat
	Version uint64
}

// HoldResult is returned by a successful Hold.  ExpiresAt is when the
// newest hold of the batch lapses.
type HoldResult struct {
	SeatIDs   []string
	ExpiresAt time.Time
}

// Options tunes a Coordinator.  Zero values fall back to defaults.
type Options struct {
	MaxSeatsPerHold int
	HoldDuration    time.Duration
	LockTimeout     time.Duration
	PersistRetries  int
	RetryBackoff    time.Duration
	Now             func() time.Time
	Bookings        BookingEvents
	Logger          *log.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxSeatsPerHold <= 0 {
		o.MaxSeatsPerHold = model.DefaultMaxSeatsPerHold
	}
	if o.HoldDuration <= 0 {
		o.HoldDuration = model.DefaultHoldDuration
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 2 * time.Second
	}
	if o.PersistRetries <= 0 {
		o.PersistRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New("reservation")
	}
	return o
}

// Coordinator is the per-event serialization boundary in front of the
// seat ledgers.  Every transition runs inside the event's ledger
// transaction and is committed to the store and published to the
// notifier while the lock is still held.
type Coordinator struct {
	registry *ledger.Registry
	store    repository.Store
	notifier DeltaPublisher
	opts     Options
	log      *log.Logger
}

// NewCoordinator wires a coordinator.  notifier may be nil.
func NewCoordinator(registry *ledger.Registry, store repository.Store, notifier DeltaPublisher, opts Options) *Coordinator {
	if registry == nil || store == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	opts = opts.withDefaults()
	return &Coordinator{registry: registry, store: store, notifier: notifier, opts: opts, log: opts.Logger}
}

// Restore rebuilds the ledgers of all stored events.  It is called once
// at startup before requests are served.
func (c *Coordinator) Restore(ctx context.Context) error {
	recs, err := c.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, rec := range recs {
		ev := rec.Event.WithDefaults(c.opts.MaxSeatsPerHold, c.opts.HoldDuration)
		l, err := ledger.New(ev, rec.Seats, rec.Version)
		if err != nil {
			return fmt.Errorf("restore %s: %w", ev.ID, err)
		}
		if err := c.registry.Add(l); err != nil {
			return fmt.Errorf("restore %s: %w", ev.ID, err)
		}
	}
	c.log.Infof("restored %d events", len(recs))
	return nil
}

// EventIDs lists the events with a ledger.
func (c *Coordinator) EventIDs() []string { return c.registry.IDs() }

func (c *Coordinator) HasEvent(eventID string) bool {
	_, ok := c.registry.Get(eventID)
	return ok
}

func (c *Coordinator) ListEvents(ctx context.Context) ([]model.Event, error) {
	return c.store.ListEvents(ctx)
}

// CreateEvent stores a new event with its seats and registers its
// ledger.  Configuration left at zero takes the service defaults.
func (c *Coordinator) CreateEvent(ctx context.Context, ev model.Event, seats []model.Seat) (model.Event, error) {
	if ev.ID == "" || len(seats) == 0 {
		return model.Event{}, ErrInvalidEvent
	}
	ev = ev.WithDefaults(c.opts.MaxSeatsPerHold, c.opts.HoldDuration)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = c.opts.Now().UTC()
	}
	l, err := ledger.New(ev, seats, 0)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if _, ok := c.registry.Get(ev.ID); ok {
		return model.Event{}, ErrEventExists
	}
	if err := c.store.CreateEvent(ctx, repository.EventRecord{Event: ev, Seats: seats}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Event{}, ErrEventExists
		}
		return model.Event{}, err
	}
	if err := c.registry.Add(l); err != nil {
		return model.Event{}, ErrEventExists
	}
	c.log.Infof("event %s created with %d seats", ev.ID, len(seats))
	return ev, nil
}

// Seats returns the event and a consistent copy of its seats.
func (c *Coordinator) Seats(ctx context.Context, eventID string) (*SeatMap, error) {
	l, ok := c.registry.Get(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}
	lctx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()
	seats, version, err := l.Snapshot(lctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return &SeatMap{Event: l.Event(), Seats: seats, Version: version}, nil
}

// Hold places holds on seatIDs for userID.  The user's held seats after
// the call, counting holds from earlier requests, may not exceed the
// event's MaxSeatsPerHold.
func (c *Coordinator) Hold(ctx context.Context, eventID string, seatIDs []string, userID string) (*HoldResult, error) {
	ids := uniqueIDs(seatIDs)
	if len(ids) == 0 {
		return nil, ErrNoSeats
	}
	var res *HoldResult
	_, err := c.mutate(ctx, eventID, func(tx *ledger.Txn, now time.Time) (*model.Booking, error) {
		ev := tx.Event()
		tx.SweepExpired(now, ev.HoldDuration)
		// Unavailable seats are reported before the limit is checked;
		// exceeding the limit rolls the granted holds back.
		granted, conflicts := tx.TryHold(ids, userID, now)
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
		if tx.HeldCount(userID) > ev.MaxSeatsPerHold {
			return nil, ErrLimitExceeded
		}
		res = &HoldResult{SeatIDs: granted, ExpiresAt: latestExpiry(tx, granted, ev.HoldDuration)}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func latestExpiry(tx *ledger.Txn, ids []string, hold time.Duration) time.Time {
	var latest time.Time
	for _, id := range ids {
		if s, ok := tx.Seat(id); ok && s.HeldAt != nil && s.HeldAt.After(latest) {
			latest = *s.HeldAt
		}
	}
	return latest.Add(hold)
}

// Release frees the seats of seatIDs held by userID.  Seats held by
// someone else, sold or unknown are skipped.
func (c *Coordinator) Release(ctx context.Context, eventID string, seatIDs []string, userID string) ([]string, error) {
	released := []string{}
	_, err := c.mutate(ctx, eventID, func(tx *ledger.Txn, now time.Time) (*model.Booking, error) {
		released = tx.Release(seatIDs, userID)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// Book sells seatIDs to userID.  Every seat must currently be held by
// the user; otherwise a ConflictError is returned and nothing changes.
// The booking is stored together with the seat change.
func (c *Coordinator) Book(ctx context.Context, eventID string, seatIDs []string, userID string, meta model.BookingMetadata) (*model.Booking, error) {
	ids := uniqueIDs(seatIDs)
	if len(ids) == 0 {
		return nil, ErrNoSeats
	}
	var ev model.Event
	booking, err := c.mutate(ctx, eventID, func(tx *ledger.Txn, now time.Time) (*model.Booking, error) {
		ev = tx.Event()
		tx.SweepExpired(now, ev.HoldDuration)
		sold, conflicts := tx.ConfirmSale(ids, userID, now)
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
		var total uint32
		for _, id := range sold {
			s, _ := tx.Seat(id)
			total += s.Tier.PriceCents()
		}
		return &model.Booking{
			ID:               uuid.NewString(),
			EventID:          eventID,
			UserID:           userID,
			SeatIDs:          sold,
			TotalAmountCents: total,
			Metadata:         meta,
			CreatedAt:        now.UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if c.opts.Bookings != nil {
		b := *booking
		go func() {
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.opts.Bookings.BookingConfirmed(pctx, ev, b); err != nil {
				c.log.Warnf("booking %s: confirmation event not sent: %v", b.ID, err)
			}
		}()
	}
	return booking, nil
}

// Sweep frees the expired holds of one event and returns their ids.
func (c *Coordinator) Sweep(ctx context.Context, eventID string) ([]string, error) {
	var expired []string
	_, err := c.mutate(ctx, eventID, func(tx *ledger.Txn, now time.Time) (*model.Booking, error) {
		expired = tx.SweepExpired(now, tx.Event().HoldDuration)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (c *Coordinator) MyBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	return c.store.ListBookings(ctx, userID)
}

// mutate runs fn inside the event transaction.  If fn changed seats they
// are committed to the store (with bounded retries) and the delta is
// published before the lock is released.  Any error from fn rolls the
// transaction back.  A booking returned by fn is stored in the same
// commit as the seats.
func (c *Coordinator) mutate(ctx context.Context, eventID string, fn func(tx *ledger.Txn, now time.Time) (*model.Booking, error)) (*model.Booking, error) {
	l, ok := c.registry.Get(eventID)
	if !ok {
		return nil, ErrEventNotFound
	}
	lctx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()
	tx, err := l.Begin(lctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer tx.Rollback()

	booking, err := fn(tx, c.opts.Now())
	if err != nil {
		return nil, err
	}
	if !tx.Dirty() {
		return booking, nil
	}
	version, err := c.save(ctx, eventID, tx.Snapshot(), tx.Version(), booking)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			c.reload(ctx, eventID, tx)
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		c.log.Errorf("event %s: commit failed, rolled back: %v", eventID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if c.notifier != nil {
		c.notifier.PublishSeatDelta(eventID, version, tx.Changed())
	}
	tx.Commit(version)
	return booking, nil
}

// save writes the seats, retrying transient failures with exponential
// backoff.  Version conflicts and missing events are not retried.
func (c *Coordinator) save(ctx context.Context, eventID string, seats []model.Seat, expect uint64, booking *model.Booking) (uint64, error) {
	backoff := c.opts.RetryBackoff
	var err error
	for attempt := 1; attempt <= c.opts.PersistRetries; attempt++ {
		var v uint64
		v, err = c.store.SaveSeats(ctx, eventID, seats, expect, booking)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrEventNotFound) {
			return 0, err
		}
		if attempt == c.opts.PersistRetries {
			break
		}
		c.log.Warnf("event %s: save attempt %d failed: %v; retrying in %s", eventID, attempt, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0, err
		}
		backoff *= 2
	}
	return 0, err
}

// reload replaces the ledger state with what the store holds.  On
// failure the in-memory changes are simply rolled back by the caller.
func (c *Coordinator) reload(ctx context.Context, eventID string, tx *ledger.Txn) {
	rec, err := c.store.LoadEvent(ctx, eventID)
	if err != nil {
		c.log.Errorf("event %s: reload after version conflict: %v", eventID, err)
		return
	}
	if err := tx.Reload(rec.Seats, rec.Version); err != nil {
		c.log.Errorf("event %s: reload after version conflict: %v", eventID, err)
		return
	}
	tx.Commit(rec.Version)
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
