package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key
// violation.
const mysqlDuplicateEntry = 1062

// EventRepo stores events in the `events` table, one row per event with
// the seat array as a JSON column and a version counter used for
// compare-and-swap updates.  Bookings live in the `bookings` table and
// are written in the same transaction as the seat update that sold them.
// All timestamps are stored in UTC.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns an EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying sql.DB.
func (r *EventRepo) DB() *sql.DB { return r.db }

// CreateEvent inserts a new event with its seats at version 0.  It
// returns ErrConflict when the id is taken.
func (r *EventRepo) CreateEvent(ctx context.Context, rec EventRecord) error {
	seats, err := json.Marshal(rec.Seats)
	if err != nil {
		return fmt.Errorf("marshal seats: %w", err)
	}
	const q = `INSERT INTO events (id, title, venue, starts_at, max_seats_per_hold, hold_duration_ms, seats, version, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`
	ev := rec.Event
	_, err = r.db.ExecContext(ctx, q,
		ev.ID, ev.Title, ev.Venue, ev.StartsAt.UTC(), ev.MaxSeatsPerHold,
		ev.HoldDuration.Milliseconds(), seats, ev.CreatedAt.UTC(),
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return ErrConflict
	}
	return err
}

// ListEvents returns every event without seats, ordered by start time.
func (r *EventRepo) ListEvents(ctx context.Context) ([]model.Event, error) {
	const q = `SELECT id, title, venue, starts_at, max_seats_per_hold, hold_duration_ms, created_at
               FROM events ORDER BY starts_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var holdMs int64
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Venue, &ev.StartsAt, &ev.MaxSeatsPerHold, &holdMs, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.HoldDuration = time.Duration(holdMs) * time.Millisecond
		out = append(out, ev)
	}
	return out, rows.Err()
}

const selectRecord = `SELECT id, title, venue, starts_at, max_seats_per_hold, hold_duration_ms, created_at, seats, version
                      FROM events`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (EventRecord, error) {
	var rec EventRecord
	var holdMs int64
	var seats []byte
	ev := &rec.Event
	if err := s.Scan(&ev.ID, &ev.Title, &ev.Venue, &ev.StartsAt, &ev.MaxSeatsPerHold, &holdMs, &ev.CreatedAt, &seats, &rec.Version); err != nil {
		return EventRecord{}, err
	}
	ev.HoldDuration = time.Duration(holdMs) * time.Millisecond
	if err := json.Unmarshal(seats, &rec.Seats); err != nil {
		return EventRecord{}, fmt.Errorf("unmarshal seats of %s: %w", ev.ID, err)
	}
	return rec, nil
}

// LoadEvent returns the event with its seats or ErrEventNotFound.
func (r *EventRepo) LoadEvent(ctx context.Context, id string) (EventRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return EventRecord{}, ErrEventNotFound
	}
	return rec, err
}

// LoadAll returns every event with its seats.  Used at startup to
// rebuild the in-memory ledgers.
func (r *EventRepo) LoadAll(ctx context.Context) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveSeats writes the seat array when the stored version equals expect
// and bumps the version.  A booking, when given, is inserted inside the
// same transaction so a sale is never stored without its booking.
func (r *EventRepo) SaveSeats(ctx context.Context, eventID string, seats []model.Seat, expect uint64, booking *model.Booking) (uint64, error) {
	payload, err := json.Marshal(seats)
	if err != nil {
		return 0, fmt.Errorf("marshal seats: %w", err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`UPDATE events SET seats = ?, version = version + 1 WHERE id = ? AND version = ?`,
		payload, eventID, expect,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Either the event is gone or another writer moved the version.
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrEventNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}
	if booking != nil {
		if err := r.insertBookingTx(ctx, tx, booking); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return expect + 1, nil
}

func (r *EventRepo) insertBookingTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	seatIDs, err := json.Marshal(b.SeatIDs)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return err
	}
	const q = `INSERT INTO bookings (id, event_id, user_id, seat_ids, total_amount_cents, metadata, created_at)
               VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q, b.ID, b.EventID, b.UserID, seatIDs, b.TotalAmountCents, meta, b.CreatedAt.UTC())
	return err
}

// ListBookings returns the bookings of a user, newest first.  When the
// user has no bookings an empty slice is returned.
func (r *EventRepo) ListBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	const q = `SELECT id, event_id, user_id, seat_ids, total_amount_cents, metadata, created_at
               FROM bookings WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		var b model.Booking
		var seatIDs, meta []byte
		if err := rows.Scan(&b.ID, &b.EventID, &b.UserID, &seatIDs, &b.TotalAmountCents, &meta, &b.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(seatIDs, &b.SeatIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
