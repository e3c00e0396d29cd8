package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-reservation/internal/middleware"
	"github.com/iliyamo/event-seat-reservation/internal/model"
)

type seatsRequest struct {
	SeatIDs []string `json:"seat_ids" validate:"required,min=1,max=50,dive,required,max=16"`
}

type bookRequest struct {
	SeatIDs      []string `json:"seat_ids" validate:"required,min=1,max=50,dive,required,max=16"`
	ContactName  string   `json:"contact_name" validate:"max=200"`
	ContactEmail string   `json:"contact_email" validate:"omitempty,email"`
	PaymentRef   string   `json:"payment_ref" validate:"max=200"`
}

// HoldSeats handles POST /v1/events/:id/holds.  Either every seat is
// held or the 409 response lists the conflicting seats.
func (h *Handler) HoldSeats(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req seatsRequest
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	res, err := h.svc.Hold(c.Request().Context(), c.Param("id"), req.SeatIDs, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"seat_ids": res.SeatIDs, "expires_at": res.ExpiresAt})
}

// ReleaseHolds handles DELETE /v1/events/:id/holds.  Seats not held by
// the caller are ignored.
func (h *Handler) ReleaseHolds(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req seatsRequest
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	released, err := h.svc.Release(c.Request().Context(), c.Param("id"), req.SeatIDs, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// BookSeats handles POST /v1/events/:id/bookings.
func (h *Handler) BookSeats(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req bookRequest
	if ok, err := bindValid(c, &req); !ok {
		return err
	}
	b, err := h.svc.Book(c.Request().Context(), c.Param("id"), req.SeatIDs, userID, model.BookingMetadata{
		ContactName:  req.ContactName,
		ContactEmail: req.ContactEmail,
		PaymentRef:   req.PaymentRef,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"booking_id":         b.ID,
		"seat_ids":           b.SeatIDs,
		"total_amount_cents": b.TotalAmountCents,
		"created_at":         b.CreatedAt,
	})
}

// MyBookings handles GET /v1/me/bookings, newest first.
func (h *Handler) MyBookings(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	items, err := h.svc.MyBookings(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(items), "items": items})
}
