package reservation

import (
	"context"
	"log"
	"time"

	"github.com/atelierhq/piece-market/internal/clock"
	"github.com/atelierhq/piece-market/internal/model"
	"github.com/atelierhq/piece-market/internal/notifier"
	"github.com/atelierhq/piece-market/internal/queue"
	"github.com/atelierhq/piece-market/internal/repository"
)

// DefaultSweepInterval keeps list views honest: short relative to the lease
// TTL so the staleness window seen by status-filtered queries stays small.
const DefaultSweepInterval = 30 * time.Second

// Sweeper is the active half of expiry enforcement.  Each pass scans
// reserved rows whose deadline has passed and reverts them to available
// with the very same conditional update live requests use, so the sweep
// composes with concurrent Reserve/Cancel/Finalize without extra locking.
// Expiry only ever moves reserved to available, never touches sold rows,
// and never extends a lease.
type Sweeper struct {
	store    repository.PieceStore
	clock    clock.Clock
	events   notifier.Publisher
	interval time.Duration
	batch    int
}

// NewSweeper constructs a sweeper.  interval <= 0 falls back to the
// default; batch <= 0 means 100 rows per pass.
func NewSweeper(store repository.PieceStore, clk clock.Clock, events notifier.Publisher, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{store: store, clock: clk, events: events, interval: interval, batch: batch}
}

// Run blocks, sweeping once per interval until ctx is cancelled.  Intended
// to be launched as a goroutine from main.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				log.Printf("sweeper: pass failed: %v", err)
			} else if n > 0 {
				log.Printf("sweeper: reverted %d expired lease(s)", n)
			}
		}
	}
}

// SweepOnce reverts every currently expired lease and returns how many rows
// it changed.  A conflict on an individual row means a live writer got
// there first (a fresh Reserve taking over the stale lease, or a cancel);
// that is success from the sweep's point of view and is skipped silently.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.store.ListExpired(ctx, now, s.batch)
	if err != nil {
		return 0, err
	}
	reverted := 0
	for _, p := range expired {
		if err := s.store.CASRelease(ctx, p.ID, p.Version); err != nil {
			if err == repository.ErrVersionConflict {
				continue
			}
			return reverted, err
		}
		reverted++
		s.notify(ctx, p)
	}
	return reverted, nil
}

func (s *Sweeper) notify(ctx context.Context, p model.Piece) {
	if s.events == nil {
		return
	}
	ev := queue.PieceStatusEvent{
		PieceID:      p.ID,
		CollectionID: p.CollectionID,
		Status:       string(model.StatusAvailable),
		OccurredAt:   s.clock.Now().Format(time.RFC3339),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		log.Printf("sweeper: publish event for piece %s failed: %v", p.ID, err)
	}
}
