// Package countdown models the client-side presentation of a lease as pure
// functions, independent of any UI framework.  The client renders an
// estimate; the server is authoritative.  In particular a countdown that
// hits zero must not flip the view to "available" on its own: it parks on
// Lapsed until a pushed status change or a re-fetch confirms what actually
// happened server-side.
package countdown

import (
	"time"

	"github.com/atelierhq/piece-market/internal/model"
)

// ViewState is what the UI shows for one piece.
type ViewState string

const (
	ViewAvailable   ViewState = "available" // piece can be claimed
	ViewCounting    ViewState = "counting"  // our lease, deadline in the future
	ViewLapsed      ViewState = "lapsed"    // our timer hit zero; awaiting server truth
	ViewHeldByOther ViewState = "held"      // someone else's lease
	ViewSold        ViewState = "sold"      // terminal
	ViewPending     ViewState = "pending"   // optimistic local apply, awaiting confirmation
)

// Remaining computes the time left on a lease, clamped at zero.  Smooth
// ticking is the client's business; the value carries no authority.
func Remaining(lease model.Lease, now time.Time) time.Duration {
	d := lease.ReservedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Tick advances a counting view by the local clock only.  Reaching zero
// moves to Lapsed, never directly to Available: the lease may have been
// finalized or taken over server-side during the last instant.
func Tick(state ViewState, remaining time.Duration) ViewState {
	if state == ViewCounting && remaining <= 0 {
		return ViewLapsed
	}
	return state
}

// FromServer maps an authoritative piece status to the view for a given
// observer.  It is the only way a Lapsed or Pending view resolves.
func FromServer(status model.PieceStatus, reservedByMe bool) ViewState {
	switch status {
	case model.StatusSold:
		return ViewSold
	case model.StatusReserved:
		if reservedByMe {
			return ViewCounting
		}
		return ViewHeldByOther
	default:
		return ViewAvailable
	}
}

// Apply performs the optimistic local transition for an action the user
// just requested, before the server has answered.
func Apply(ViewState) ViewState {
	return ViewPending
}

// Resolve folds the server's answer into an optimistic view: on success the
// confirmed state wins, on error the view rolls back to the state held
// before the action was applied.  Pure function of (prior, confirmed, err).
func Resolve(prior ViewState, confirmed ViewState, err error) ViewState {
	if err != nil {
		return prior
	}
	return confirmed
}
