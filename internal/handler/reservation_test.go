package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/model"
	"github.com/atelierhq/piece-market/internal/repository"
	"github.com/atelierhq/piece-market/internal/reservation"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// invoke runs an echo handler against a synthetic request for one piece,
// with the authenticated caller already placed in the context the way the
// JWT middleware does.
func invoke(t *testing.T, h echo.HandlerFunc, pieceID, userID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(pieceID)
	if userID != "" {
		c.Set("user_id", userID)
	}
	if role != "" {
		c.Set("role", role)
	}
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func newReservationFixture(t *testing.T) (*repository.MemoryPieceStore, *ReservationHandler, model.Piece) {
	t.Helper()
	store := repository.NewMemoryPieceStore()
	p := model.NewPiece("col-1", 1, 90_000)
	store.Put(p)
	m := reservation.NewManager(store, clock.NewFixed(t0), nil)
	return store, NewReservationHandler(m, nil), p
}

func TestReservationHandler_Reserve(t *testing.T) {
	t.Parallel()

	t.Run("grants a lease", func(t *testing.T) {
		_, h, p := newReservationFixture(t)

		rec := invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusCreated, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, p.ID, body["piece_id"])
		assert.Equal(t, t0.Add(reservation.DefaultLeaseTTL).Format(time.RFC3339), body["reserved_until"])
	})

	t.Run("conflict on a held piece", func(t *testing.T) {
		_, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Reserve, p.ID, "userB", RoleCustomer, "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conflict", decode(t, rec)["error"])
	})

	t.Run("second hold by the same user is rejected", func(t *testing.T) {
		store, h, p := newReservationFixture(t)
		p2 := model.NewPiece("col-1", 2, 90_000)
		store.Put(p2)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Reserve, p2.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "already_has_active_reservation", decode(t, rec)["error"])
	})

	t.Run("unknown piece", func(t *testing.T) {
		_, h, _ := newReservationFixture(t)

		rec := invoke(t, h.Reserve, "missing", "userA", RoleCustomer, "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "piece_not_found", decode(t, rec)["error"])
	})

	t.Run("no identity in context", func(t *testing.T) {
		_, h, p := newReservationFixture(t)

		rec := invoke(t, h.Reserve, p.ID, "", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestReservationHandler_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("holder releases the piece", func(t *testing.T) {
		store, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Cancel, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "available", decode(t, rec)["status"])

		row, _ := store.Snapshot(p.ID)
		assert.Equal(t, model.StatusAvailable, row.Status)
	})

	t.Run("non-holder is forbidden", func(t *testing.T) {
		_, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Cancel, p.ID, "userB", RoleCustomer, "")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not_owner", decode(t, rec)["error"])
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		_, h, p := newReservationFixture(t)

		rec := invoke(t, h.Cancel, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "not_reserved", decode(t, rec)["error"])
	})
}

func TestReservationHandler_Finalize(t *testing.T) {
	t.Parallel()

	t.Run("buyer finalizes their own hold", func(t *testing.T) {
		store, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Finalize, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sold", decode(t, rec)["status"])

		row, _ := store.Snapshot(p.ID)
		assert.Equal(t, model.StatusSold, row.Status)
	})

	t.Run("checkout service finalizes on behalf of the buyer", func(t *testing.T) {
		_, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Finalize, p.ID, "svc-checkout", RoleCheckout, `{"user_id":"userA"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sold", decode(t, rec)["status"])
	})

	t.Run("customers cannot finalize for someone else", func(t *testing.T) {
		_, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Finalize, p.ID, "userB", RoleCustomer, `{"user_id":"userA"}`)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "forbidden", decode(t, rec)["error"])
	})

	t.Run("expired lease cannot be finalized", func(t *testing.T) {
		store, h, p := newReservationFixture(t)
		by := "userA"
		until := t0.Add(-time.Second)
		p.Status = model.StatusReserved
		p.ReservedBy = &by
		p.ReservedUntil = &until
		store.Put(p)

		rec := invoke(t, h.Finalize, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "lease_expired", decode(t, rec)["error"])
	})

	t.Run("a sold piece stays sold", func(t *testing.T) {
		_, h, p := newReservationFixture(t)
		invoke(t, h.Reserve, p.ID, "userA", RoleCustomer, "")
		invoke(t, h.Finalize, p.ID, "userA", RoleCustomer, "")

		rec := invoke(t, h.Finalize, p.ID, "userA", RoleCustomer, "")
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "sold", decode(t, rec)["error"])
	})
}

func TestReservationHandler_CheckoutNotConfigured(t *testing.T) {
	t.Parallel()

	_, h, p := newReservationFixture(t)
	rec := invoke(t, h.Checkout, p.ID, "userA", RoleCustomer, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
