package model

import (
	"strconv"
	"time"
)

// SeatStatus is the reservation state of a seat for one event.
type SeatStatus string

const (
	StatusAvailable SeatStatus = "available"
	StatusHeld      SeatStatus = "held"
	StatusSold      SeatStatus = "sold"
)

// Tier groups seats that share a fixed price.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierEconomy  Tier = "economy"
)

// tierPrices holds the fixed per-seat price of every tier in cents.
var tierPrices = map[Tier]uint32{
	TierPremium:  15000,
	TierStandard: 10000,
	TierEconomy:  6000,
}

// PriceCents returns the fixed seat price of the tier.  Unknown tiers
// are priced as standard.
func (t Tier) PriceCents() uint32 {
	if p, ok := tierPrices[t]; ok {
		return p
	}
	return tierPrices[TierStandard]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierPrices[t]
	return ok
}

// Seat describes one seat of an event and its current reservation
// state.  The ID is derived from the row label and seat number so it
// is stable across restarts.
//
// Fields:
//  ID      – seat identifier (row label + number, e.g. "A1").
//  Row     – row label (A, B, ..., AA).
//  Number  – seat number within the row, starting at 1.
//  Tier    – pricing tier.
//  Status  – available, held or sold.
//  Holder  – user holding the seat; set iff Status is held.
//  HeldAt  – when the hold was acquired; set iff Status is held.
//  Buyer   – user who bought the seat; set iff Status is sold.
//  SoldAt  – when the sale happened; set iff Status is sold.
type Seat struct {
	ID     string     `json:"id"`
	Row    string     `json:"row"`
	Number uint32     `json:"number"`
	Tier   Tier       `json:"tier"`
	Status SeatStatus `json:"status"`
	Holder string     `json:"holder,omitempty"`
	HeldAt *time.Time `json:"held_at,omitempty"`
	Buyer  string     `json:"buyer,omitempty"`
	SoldAt *time.Time `json:"sold_at,omitempty"`
}

// SeatID builds the identifier of the seat at row/number.
func SeatID(row string, number uint32) string {
	return row + strconv.FormatUint(uint64(number), 10)
}

// NewSeat returns an available seat at row/number in the given tier.
func NewSeat(row string, number uint32, tier Tier) Seat {
	return Seat{
		ID:     SeatID(row, number),
		Row:    row,
		Number: number,
		Tier:   tier,
		Status: StatusAvailable,
	}
}

// Consistent reports whether the owner fields match the status: holder
// and heldAt only for held seats, buyer and soldAt only for sold seats.
func (s Seat) Consistent() bool {
	held := s.Holder != "" && s.HeldAt != nil
	sold := s.Buyer != "" && s.SoldAt != nil
	noHold := s.Holder == "" && s.HeldAt == nil
	noSale := s.Buyer == "" && s.SoldAt == nil
	switch s.Status {
	case StatusAvailable:
		return noHold && noSale
	case StatusHeld:
		return held && noSale
	case StatusSold:
		return sold && noHold
	}
	return false
}

// Owner returns the user currently holding or owning the seat, or the
// empty string for available seats.
func (s Seat) Owner() string {
	switch s.Status {
	case StatusHeld:
		return s.Holder
	case StatusSold:
		return s.Buyer
	}
	return ""
}
