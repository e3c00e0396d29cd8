// Package handler holds the HTTP handlers of the reservation API.  They
// bind and validate requests, call the reservation service and map its
// errors to status codes.
package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-reservation/internal/service"
)

// Handler serves the event, hold and booking routes.
type Handler struct {
	svc service.ReservationService
}

func New(svc service.ReservationService) *Handler {
	if svc == nil {
		panic("nil service passed to handler.New")
	}
	return &Handler{svc: svc}
}

// Validator adapts go-playground/validator to echo.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator { return &Validator{v: validator.New(validator.WithRequiredStructEnabled())} }

func (cv *Validator) Validate(i interface{}) error { return cv.v.Struct(i) }

// bindValid binds the body into req and validates it.  On failure the
// 400 response has already been written and ok is false.
func bindValid(c echo.Context, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fields})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// writeError maps service errors to responses.
func writeError(c echo.Context, err error) error {
	var ce *service.ConflictError
	switch {
	case errors.As(err, &ce):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict", "conflicts": ce.Conflicts})
	case errors.Is(err, service.ErrEventNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
	case errors.Is(err, service.ErrEventExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "event already exists"})
	case errors.Is(err, service.ErrLimitExceeded):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "limit_exceeded"})
	case errors.Is(err, service.ErrNoSeats), errors.Is(err, service.ErrInvalidEvent):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case service.Retryable(err):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "busy"})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
