// Package checkout glues the external payment processor to the reservation
// core.  The processor itself is a black box; the bridge's job is ordering:
// charge only while a live lease is held, finalize only after the charge
// succeeded, and refund immediately if finalization fails so money is never
// kept for a piece that cannot be delivered.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/model"
	"github.com/atelierhq/piece-market/internal/repository"
	"github.com/atelierhq/piece-market/internal/reservation"
)

// PaymentProcessor is the external payment service.  Charge returns a
// transaction id used for refunds.
type PaymentProcessor interface {
	Charge(ctx context.Context, userID, pieceID string, amountCents uint32) (txID string, err error)
	Refund(ctx context.Context, txID string) error
}

// Reserver is the slice of the reservation manager the bridge needs.
type Reserver interface {
	Finalize(ctx context.Context, pieceID, userID string) error
	Cancel(ctx context.Context, pieceID, userID string) error
}

// Result describes a completed purchase.
type Result struct {
	PieceID       string
	UserID        string
	AmountCents   uint32
	TransactionID string
}

// Bridge drives the reserve-pay-finalize sequence.
type Bridge struct {
	store    repository.PieceStore
	manager  Reserver
	payments PaymentProcessor
	clock    clock.Clock

	// infra retry knobs; domain errors are never retried
	maxAttempts int
	baseDelay   time.Duration
}

// NewBridge constructs a bridge with default backoff (4 attempts starting
// at 250ms, doubling).
func NewBridge(store repository.PieceStore, manager Reserver, payments PaymentProcessor, clk clock.Clock) *Bridge {
	if clk == nil {
		panic("nil clock passed to NewBridge")
	}
	return &Bridge{
		store:       store,
		manager:     manager,
		payments:    payments,
		clock:       clk,
		maxAttempts: 4,
		baseDelay:   250 * time.Millisecond,
	}
}

// Complete charges the buyer for their reserved piece and finalizes the
// sale.  Domain failures (expired lease, lost race, wrong owner) surface
// immediately and are never retried; per the contract, a finalize failure
// after a successful charge triggers a refund before the error is returned.
// Only storage unavailability is retried, with capped exponential backoff.
func (b *Bridge) Complete(ctx context.Context, pieceID, userID string) (Result, error) {
	var p model.Piece
	err := b.withBackoff(ctx, func() error {
		var err error
		p, err = b.store.GetByID(ctx, pieceID)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	// Fail before money moves whenever the lease is already unusable.
	if p.Status == model.StatusSold {
		return Result{}, reservation.ErrPieceSold
	}
	if p.Status != model.StatusReserved {
		return Result{}, reservation.ErrNotReserved
	}
	if p.ReservedBy == nil || *p.ReservedBy != userID {
		return Result{}, reservation.ErrNotOwner
	}
	if p.LeaseExpired(b.clock.Now()) {
		// Finalize would reject the lapsed lease anyway; checking here keeps
		// the charge from ever being captured for it.
		return Result{}, reservation.ErrLeaseExpired
	}

	txID, err := b.payments.Charge(ctx, userID, pieceID, p.PriceCents)
	if err != nil {
		return Result{}, fmt.Errorf("charge: %w", err)
	}

	if err := b.manager.Finalize(ctx, pieceID, userID); err != nil {
		// The hold lapsed or was lost between charge and finalize; give the
		// money back and make the caller restart the reservation flow.
		if refundErr := b.payments.Refund(ctx, txID); refundErr != nil {
			log.Printf("checkout: refund of %s after failed finalize also failed: %v", txID, refundErr)
		}
		return Result{}, err
	}

	return Result{PieceID: pieceID, UserID: userID, AmountCents: p.PriceCents, TransactionID: txID}, nil
}

// Abort releases the buyer's hold when the user backs out of checkout.
func (b *Bridge) Abort(ctx context.Context, pieceID, userID string) error {
	return b.manager.Cancel(ctx, pieceID, userID)
}

// withBackoff retries fn on infrastructure errors only.
func (b *Bridge) withBackoff(ctx context.Context, fn func() error) error {
	delay := b.baseDelay
	var err error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if err = fn(); err == nil || !retriable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// retriable reports whether the error is infrastructure trouble rather than
// a domain outcome.  Domain sentinels have a defined meaning and retrying
// them cannot change it.
func retriable(err error) bool {
	switch {
	case errors.Is(err, repository.ErrPieceNotFound),
		errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, reservation.ErrConflict),
		errors.Is(err, reservation.ErrActiveReservation),
		errors.Is(err, reservation.ErrNotOwner),
		errors.Is(err, reservation.ErrNotReserved),
		errors.Is(err, reservation.ErrLeaseExpired),
		errors.Is(err, reservation.ErrPieceSold):
		return false
	}
	return true
}
