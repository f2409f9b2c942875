package reservation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/model"
	"github.com/atelierhq/piece-market/internal/notifier"
	"github.com/atelierhq/piece-market/internal/queue"
	"github.com/atelierhq/piece-market/internal/repository"
)

// DefaultLeaseTTL is how long a reservation holds a piece before it lapses.
const DefaultLeaseTTL = 15 * time.Minute

// Manager executes reservation state transitions.  It is safe for
// concurrent use by any number of request workers: every mutation goes
// through the store's conditional update, so two racing callers can never
// both succeed on the same row version.
type Manager struct {
	store    repository.PieceStore
	clock    clock.Clock
	events   notifier.Publisher
	leaseTTL time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeaseTTL overrides the default lease duration.
func WithLeaseTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.leaseTTL = d
		}
	}
}

// NewManager constructs a Manager.  events may be nil when no observer
// plumbing is wired (tests, batch tools).
func NewManager(store repository.PieceStore, clk clock.Clock, events notifier.Publisher, opts ...Option) *Manager {
	if store == nil || clk == nil {
		panic("nil dependency passed to NewManager")
	}
	m := &Manager{
		store:    store,
		clock:    clk,
		events:   events,
		leaseTTL: DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LeaseTTL reports the configured lease duration.
func (m *Manager) LeaseTTL() time.Duration { return m.leaseTTL }

// Reserve atomically claims an available piece for userID and returns the
// lease.  A reserved row whose deadline has passed counts as available and
// is taken over in the same conditional write.  Exactly one of N concurrent
// callers succeeds; the rest get ErrConflict.
//
// The one-active-claim-per-user guard runs before the write.  It is
// advisory: it can race with a concurrent Reserve by the same user, and the
// rare double-hold that slips through is tolerated and resolved like any
// other Cancel/Finalize flow.  Only the per-piece invariant is airtight.
func (m *Manager) Reserve(ctx context.Context, pieceID, userID string) (model.Lease, error) {
	now := m.clock.Now()
	p, err := m.store.GetByID(ctx, pieceID)
	if err != nil {
		return model.Lease{}, err
	}
	switch p.EffectiveStatus(now) {
	case model.StatusSold:
		return model.Lease{}, ErrPieceSold
	case model.StatusReserved:
		if p.ReservedBy != nil && *p.ReservedBy == userID {
			// Re-reserving one's own live hold changes nothing; hand back
			// the current lease with its original deadline.
			return model.Lease{PieceID: p.ID, UserID: userID, ReservedUntil: p.ReservedUntil.UTC()}, nil
		}
		return model.Lease{}, ErrConflict
	}

	held, err := m.store.HasActiveReservation(ctx, userID, now)
	if err != nil {
		return model.Lease{}, fmt.Errorf("policy check: %w", err)
	}
	if held {
		return model.Lease{}, ErrActiveReservation
	}

	until := now.Add(m.leaseTTL)
	if err := m.store.CASReserve(ctx, p.ID, userID, until, now, p.Version); err != nil {
		if err == repository.ErrVersionConflict {
			return model.Lease{}, ErrConflict
		}
		return model.Lease{}, err
	}
	m.notify(ctx, p, model.StatusReserved)
	return model.Lease{PieceID: p.ID, UserID: userID, ReservedUntil: until}, nil
}

// Cancel releases the caller's own live lease, returning the piece to the
// pool immediately.  Canceling someone else's lease is ErrNotOwner, never a
// silent no-op; canceling a piece with no live lease is ErrNotReserved.
func (m *Manager) Cancel(ctx context.Context, pieceID, userID string) error {
	now := m.clock.Now()
	p, err := m.store.GetByID(ctx, pieceID)
	if err != nil {
		return err
	}
	if p.Status == model.StatusSold {
		return ErrPieceSold
	}
	// A lapsed lease is no longer cancellable; the sweep will revert it.
	if p.EffectiveStatus(now) != model.StatusReserved {
		return ErrNotReserved
	}
	if p.ReservedBy == nil || *p.ReservedBy != userID {
		return ErrNotOwner
	}
	if err := m.store.CASRelease(ctx, p.ID, p.Version); err != nil {
		if err == repository.ErrVersionConflict {
			return ErrConflict
		}
		return err
	}
	m.notify(ctx, p, model.StatusAvailable)
	return nil
}

// Finalize marks the piece sold after payment succeeded.  The deadline is
// re-validated at call time: a lease that lapsed between authorization and
// this call fails with ErrLeaseExpired so money is never taken for a piece
// whose hold is gone.  Finalize must not be blindly retried on ErrConflict
// or ErrLeaseExpired; the caller surfaces the failure to the payment flow.
func (m *Manager) Finalize(ctx context.Context, pieceID, userID string) error {
	now := m.clock.Now()
	p, err := m.store.GetByID(ctx, pieceID)
	if err != nil {
		return err
	}
	if p.Status == model.StatusSold {
		return ErrPieceSold
	}
	if p.Status != model.StatusReserved {
		return ErrNotReserved
	}
	if p.ReservedBy == nil || *p.ReservedBy != userID {
		return ErrNotOwner
	}
	if p.LeaseExpired(now) {
		return ErrLeaseExpired
	}
	if err := m.store.CASFinalize(ctx, p.ID, userID, p.Version); err != nil {
		if err == repository.ErrVersionConflict {
			return ErrConflict
		}
		return err
	}
	m.notify(ctx, p, model.StatusSold)
	return nil
}

// notify publishes a status event.  Failures are logged and dropped: the
// notifier is best-effort and never blocks a committed transition.
func (m *Manager) notify(ctx context.Context, p model.Piece, status model.PieceStatus) {
	if m.events == nil {
		return
	}
	ev := queue.PieceStatusEvent{
		PieceID:      p.ID,
		CollectionID: p.CollectionID,
		Status:       string(status),
		OccurredAt:   m.clock.Now().Format(time.RFC3339),
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		log.Printf("reservation: publish %s event for piece %s failed: %v", status, p.ID, err)
	}
}
