// Package queue carries booking notifications over RabbitMQ: the
// publisher used by the reservation service and a consumer that appends
// them to a log file.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// BookingQueue is the durable queue booking confirmations go to.
const BookingQueue = "booking.confirmed"

// BookingConfirmedEvent is published after a booking is stored.  It has
// enough detail for consumers to log or notify without reading the
// store.
type BookingConfirmedEvent struct {
	BookingID        string   `json:"booking_id"`
	EventID          string   `json:"event_id"`
	EventTitle       string   `json:"event_title"`
	Venue            string   `json:"venue"`
	StartsAt         string   `json:"starts_at"`
	UserID           string   `json:"user_id"`
	Seats            []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	ContactEmail     string   `json:"contact_email,omitempty"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

func NewBookingConfirmed(ev model.Event, b model.Booking) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:        b.ID,
		EventID:          b.EventID,
		EventTitle:       ev.Title,
		Venue:            ev.Venue,
		StartsAt:         ev.StartsAt.UTC().Format(time.RFC3339),
		UserID:           b.UserID,
		Seats:            b.SeatIDs,
		TotalAmountCents: b.TotalAmountCents,
		ContactEmail:     b.Metadata.ContactEmail,
		ConfirmedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// LogLine renders the event as one line of the booking log.
func (e BookingConfirmedEvent) LogLine() string {
	return fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | user_id=%s | event_id=%s | event=%q | venue=%q | total=%d cents | seats=[%s]\n",
		e.ConfirmedAt, e.BookingID, e.UserID, e.EventID, e.EventTitle, e.Venue, e.TotalAmountCents, strings.Join(e.Seats, ","))
}
