package model

import "time"

// BookingMetadata carries the free-form booking information supplied by
// the presentation layer.  None of it influences reservation rules.
type BookingMetadata struct {
	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	PaymentRef   string `json:"payment_ref,omitempty"`
}

// Booking records a completed purchase of one or more seats.
//
// Fields:
//  ID               – unique confirmation identifier.
//  EventID          – event the seats belong to.
//  UserID           – buyer.
//  SeatIDs          – seats sold under this booking.
//  TotalAmountCents – sum of the tier prices of the seats.
//  Metadata         – caller supplied booking information.
//  CreatedAt        – when the sale was confirmed.
type Booking struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	UserID           string          `json:"user_id"`
	SeatIDs          []string        `json:"seat_ids"`
	TotalAmountCents uint32          `json:"total_amount_cents"`
	Metadata         BookingMetadata `json:"metadata"`
	CreatedAt        time.Time       `json:"created_at"`
}
