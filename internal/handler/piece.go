package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/model"
	"github.com/atelierhq/piece-market/internal/repository"
)

// PieceHandler serves the read path: collection listings and single-piece
// lookups, straight from the piece store.  Responses are sanitized; the
// holder's identity is never exposed, only the fact that a piece is
// reserved and until when.
type PieceHandler struct {
	Store repository.PieceStore
	Clock clock.Clock
}

// NewPieceHandler constructs a PieceHandler.
func NewPieceHandler(store repository.PieceStore, clk clock.Clock) *PieceHandler {
	if store == nil || clk == nil {
		panic("nil dependency passed to NewPieceHandler")
	}
	return &PieceHandler{Store: store, Clock: clk}
}

// pieceView is the wire shape of a piece in list and detail responses.
type pieceView struct {
	ID            string `json:"id"`
	Number        uint32 `json:"number"`
	PriceCents    uint32 `json:"price_cents"`
	Status        string `json:"status"`
	ReservedUntil string `json:"reserved_until,omitempty"`
}

// toView applies the lazy-expiry rule while rendering: a reserved row whose
// deadline has passed is shown as available even if the sweep has not
// rewritten it yet.
func toView(p model.Piece, now time.Time) pieceView {
	v := pieceView{
		ID:         p.ID,
		Number:     p.Number,
		PriceCents: p.PriceCents,
		Status:     string(p.EffectiveStatus(now)),
	}
	if v.Status == string(model.StatusReserved) && p.ReservedUntil != nil {
		v.ReservedUntil = p.ReservedUntil.UTC().Format(time.RFC3339)
	}
	return v
}

// ListByCollection handles GET /v1/collections/:id/pieces.  It returns the
// full pool of a collection in display order.  An unknown collection simply
// yields an empty list; collections themselves are managed out of band.
func (h *PieceHandler) ListByCollection(c echo.Context) error {
	collectionID := c.Param("id")
	if collectionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid collection id"})
	}
	pieces, err := h.Store.ListByCollection(c.Request().Context(), collectionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load pieces"})
	}
	now := h.Clock.Now()
	items := make([]pieceView, 0, len(pieces))
	for _, p := range pieces {
		items = append(items, toView(p, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetPiece handles GET /v1/pieces/:id.
func (h *PieceHandler) GetPiece(c echo.Context) error {
	pieceID := c.Param("id")
	if pieceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid piece id"})
	}
	p, err := h.Store.GetByID(c.Request().Context(), pieceID)
	if err != nil {
		if errors.Is(err, repository.ErrPieceNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "piece not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load piece"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": toView(p, h.Clock.Now())})
}
