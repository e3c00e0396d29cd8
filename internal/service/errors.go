package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventExists   = errors.New("event already exists")
	ErrInvalidEvent  = errors.New("invalid event")
	ErrNoSeats       = errors.New("no seat ids provided")
	ErrLimitExceeded = errors.New("seat hold limit exceeded")
	// ErrBusy means the event lock could not be taken in time or the
	// stored state moved under us.  The request can be retried.
	ErrBusy = errors.New("event busy, retry")
	// ErrUnavailable means the store kept failing after the bounded
	// retries.  Nothing was applied; the request can be retried.
	ErrUnavailable = errors.New("reservation store unavailable")
)

// ConflictError lists the seats that made a hold or sale fail.  None of
// the requested seats were changed.
type ConflictError struct {
	Conflicts []model.Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s:%s", c.SeatID, c.Reason)
	}
	return "seat conflict: " + strings.Join(parts, ",")
}

// Retryable reports whether err is a transient failure the caller may
// retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrUnavailable)
}
