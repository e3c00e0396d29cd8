// Package layout builds the seat inventory of an event from a simple
// rows × seats grid.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

const (
	MaxRows        = 100
	MaxSeatsPerRow = 200
)

var ErrInvalidGrid = errors.New("invalid seat grid")

// Grid describes a rectangular venue.  Tiers[i] is the tier of row i;
// rows past the end of Tiers are standard.
type Grid struct {
	Rows        int          `json:"rows" validate:"required,min=1,max=100"`
	SeatsPerRow int          `json:"seats_per_row" validate:"required,min=1,max=200"`
	Tiers       []model.Tier `json:"tiers,omitempty" validate:"omitempty,max=100,dive,oneof=premium standard economy"`
}

// Seats returns the seats row by row (A1, A2, ..., B1, ...), all
// available.
func (g Grid) Seats() ([]model.Seat, error) {
	if g.Rows < 1 || g.Rows > MaxRows || g.SeatsPerRow < 1 || g.SeatsPerRow > MaxSeatsPerRow {
		return nil, fmt.Errorf("%w: %d rows of %d seats", ErrInvalidGrid, g.Rows, g.SeatsPerRow)
	}
	seats := make([]model.Seat, 0, g.Rows*g.SeatsPerRow)
	for r := 0; r < g.Rows; r++ {
		tier := model.TierStandard
		if r < len(g.Tiers) {
			tier = g.Tiers[r]
		}
		if !tier.Valid() {
			return nil, fmt.Errorf("%w: row %s has tier %q", ErrInvalidGrid, RowLabel(r), tier)
		}
		label := RowLabel(r)
		for n := 1; n <= g.SeatsPerRow; n++ {
			seats = append(seats, model.NewSeat(label, uint32(n), tier))
		}
	}
	return seats, nil
}

// RowLabel converts a zero-based row index to its label: A..Z, AA, AB...
func RowLabel(i int) string {
	if i < 0 {
		return ""
	}
	var res []byte
	for {
		res = append(res, byte('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// RowIndex is the inverse of RowLabel.  Labels are case-insensitive.
func RowIndex(label string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return -1, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 'A' || ch > 'Z' {
			return -1, false
		}
		n = n*26 + int(ch-'A'+1)
	}
	return n - 1, true
}
