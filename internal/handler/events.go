package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-reservation/internal/layout"
	"github.com/iliyamo/event-seat-reservation/internal/model"
)

type createEventRequest struct {
	ID              string      `json:"id" validate:"omitempty,max=64,excludesall=/?#"`
	Title           string      `json:"title" validate:"required,max=200"`
	Venue           string      `json:"venue" validate:"max=200"`
	StartsAt        time.Time   `json:"starts_at" validate:"required"`
	MaxSeatsPerHold int         `json:"max_seats_per_hold" validate:"omitempty,min=1,max=50"`
	HoldSeconds     int         `json:"hold_seconds" validate:"omitempty,min=10,max=3600"`
	Layout          layout.Grid `json:"layout" validate:"required"`
}

// ListEvents handles GET /v1/events.
func (h *Handler) ListEvents(c echo.Context) error {
	events, err := h.svc.ListEvents(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(events), "items": events})
}

// CreateEvent handles POST /v1/events.  The seats are generated from the
// layout grid; the id is generated when omitted.
func (h *Handler) CreateEvent(c echo.Context) error {
	var req createEventRequest
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	seats, err := req.Layout.Seats()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ev, err := h.svc.CreateEvent(c.Request().Context(), model.Event{
		ID:              req.ID,
		Title:           req.Title,
		Venue:           req.Venue,
		StartsAt:        req.StartsAt.UTC(),
		MaxSeatsPerHold: req.MaxSeatsPerHold,
		HoldDuration:    time.Duration(req.HoldSeconds) * time.Second,
	}, seats)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"event": ev, "seat_count": len(seats)})
}

// GetSeats handles GET /v1/events/:id/seats.  Clients call it on
// (re)connect and then follow the live feed, skipping deltas whose
// version is not above the returned one.
func (h *Handler) GetSeats(c echo.Context) error {
	m, err := h.svc.Seats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	counts := map[model.SeatStatus]int{model.StatusAvailable: 0, model.StatusHeld: 0, model.StatusSold: 0}
	for _, s := range m.Seats {
		counts[s.Status]++
	}
	return c.JSON(http.StatusOK, echo.Map{"event": m.Event, "version": m.Version, "counts": counts, "seats": m.Seats})
}
