// Package reservation implements the transactional core of the piece
// marketplace: Reserve, Cancel and Finalize with atomic state transitions,
// plus the background sweep that reverts lapsed leases.  All correctness
// comes from the store's conditional update; the package holds no locks of
// its own, so it stays correct across multiple server instances.
package reservation

import "errors"

// Every sentinel below is an expected, recoverable-by-the-caller outcome.
// Handlers map them to 4xx responses; only storage failures are surfaced as
// infrastructure errors.
var (
	// ErrConflict means the caller lost a race for the piece: someone else
	// holds it or wrote it first.  Re-fetch and offer another piece rather
	// than auto-retrying the same one.
	ErrConflict = errors.New("piece already reserved")

	// ErrActiveReservation means the user already holds an unexpired lease
	// on some other piece.  One active claim per user is policy.
	ErrActiveReservation = errors.New("user already has an active reservation")

	// ErrNotOwner means the lease on the piece belongs to a different user.
	// Cancel and Finalize never silently succeed across owners.
	ErrNotOwner = errors.New("reservation held by another user")

	// ErrNotReserved means the piece carries no live lease to act on.
	ErrNotReserved = errors.New("piece is not reserved")

	// ErrLeaseExpired means Finalize arrived after the deadline.  The
	// caller must restart the reservation flow; the piece must not be sold
	// off a lapsed hold.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrPieceSold means the piece reached its terminal state; no further
	// transitions exist.
	ErrPieceSold = errors.New("piece already sold")
)
