// Package repository persists events, their seat arrays and bookings.
// The sentinel values below let the service layer tell the failure
// scenarios apart without knowing which store is configured.
package repository

import "errors"

// ErrEventNotFound is returned when no event with the requested id is
// stored.
var ErrEventNotFound = errors.New("event not found")

// ErrConflict is returned when an event with the same id already
// exists.  Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrVersionConflict is returned by SaveSeats when the stored version no
// longer matches the expected one, meaning another writer committed in
// between.  The caller must reload the seats before retrying.
var ErrVersionConflict = errors.New("seat version conflict")
