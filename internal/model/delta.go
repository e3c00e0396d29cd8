package model

// ConflictReason explains why a seat could not take part in a hold or a
// sale.
type ConflictReason string

const (
	ReasonNotFound      ConflictReason = "not_found"
	ReasonAlreadySold   ConflictReason = "already_sold"
	ReasonLockedByOther ConflictReason = "locked_by_other"
	ReasonNotHeldByUser ConflictReason = "not_held_by_user"
)

// Conflict names a seat of a failed batch and the reason it failed.
type Conflict struct {
	SeatID string         `json:"seat_id"`
	Reason ConflictReason `json:"reason"`
}

// SeatDelta is the minimal description of a seat whose status changed.
// Holder is set for held seats and Buyer for sold seats.
type SeatDelta struct {
	ID     string     `json:"id"`
	Status SeatStatus `json:"status"`
	Holder string     `json:"holder,omitempty"`
	Buyer  string     `json:"buyer,omitempty"`
}

// DeltaOf builds the delta for the current state of s.
func DeltaOf(s Seat) SeatDelta {
	d := SeatDelta{ID: s.ID, Status: s.Status}
	switch s.Status {
	case StatusHeld:
		d.Holder = s.Holder
	case StatusSold:
		d.Buyer = s.Buyer
	}
	return d
}
