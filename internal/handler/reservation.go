package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atelierhq/piece-market/internal/checkout"
	"github.com/atelierhq/piece-market/internal/repository"
	"github.com/atelierhq/piece-market/internal/reservation"
)

// ReservationHandler exposes the reservation core over HTTP.  JWT
// authentication and role checks happen in middleware; handlers read the
// caller identity from the context.  Every domain sentinel maps to a
// stable error code so clients can branch without parsing messages.
type ReservationHandler struct {
	Manager *reservation.Manager
	Bridge  *checkout.Bridge // optional; nil disables the checkout route
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(m *reservation.Manager, b *checkout.Bridge) *ReservationHandler {
	if m == nil {
		panic("nil manager passed to NewReservationHandler")
	}
	return &ReservationHandler{Manager: m, Bridge: b}
}

// Reserve handles POST /v1/pieces/:id/reserve.  On success it returns 201
// with the lease deadline.  Exactly one of any number of concurrent callers
// gets the 201; the rest receive 409 conflict.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pieceID := c.Param("id")
	if pieceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid piece id"})
	}
	lease, err := h.Manager.Reserve(c.Request().Context(), pieceID, userID)
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"piece_id":       lease.PieceID,
		"reserved_until": lease.ReservedUntil.Format(time.RFC3339),
	})
}

// Cancel handles POST /v1/pieces/:id/cancel.  Only the holder may cancel;
// anyone else gets 403.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pieceID := c.Param("id")
	if pieceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid piece id"})
	}
	if err := h.Manager.Cancel(c.Request().Context(), pieceID, userID); err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "available"})
}

// Finalize handles POST /v1/pieces/:id/finalize.  It is called by the
// checkout service after payment succeeded, on behalf of the buyer named in
// the body; a buyer token may also finalize for itself, in which case the
// body is optional.  A lapsed lease yields 409 lease_expired and the caller
// must restart the reservation flow.
func (h *ReservationHandler) Finalize(c echo.Context) error {
	callerUID, err := callerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pieceID := c.Param("id")
	if pieceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid piece id"})
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = c.Bind(&body)
	userID := body.UserID
	if userID == "" {
		userID = callerUID
	} else if userID != callerUID && callerRole(c) != RoleCheckout {
		// Only the checkout service may finalize on another user's behalf.
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if err := h.Manager.Finalize(c.Request().Context(), pieceID, userID); err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "sold"})
}

// Checkout handles POST /v1/pieces/:id/checkout.  It runs the full bridge
// sequence for the calling buyer: validate the lease, charge the payment
// processor, finalize, refund if finalization loses the race.
func (h *ReservationHandler) Checkout(c echo.Context) error {
	if h.Bridge == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "checkout not configured"})
	}
	userID, err := callerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pieceID := c.Param("id")
	if pieceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid piece id"})
	}
	res, err := h.Bridge.Complete(c.Request().Context(), pieceID, userID)
	if err != nil {
		return reservationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":         "sold",
		"piece_id":       res.PieceID,
		"amount_cents":   res.AmountCents,
		"transaction_id": res.TransactionID,
	})
}

// reservationError maps domain sentinels to HTTP responses.
func reservationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrPieceNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "piece_not_found"})
	case errors.Is(err, reservation.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
	case errors.Is(err, reservation.ErrActiveReservation):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "already_has_active_reservation"})
	case errors.Is(err, reservation.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not_owner"})
	case errors.Is(err, reservation.ErrNotReserved):
		return c.JSON(http.StatusConflict, echo.Map{"error": "not_reserved"})
	case errors.Is(err, reservation.ErrLeaseExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "lease_expired"})
	case errors.Is(err, reservation.ErrPieceSold):
		return c.JSON(http.StatusConflict, echo.Map{"error": "sold"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
