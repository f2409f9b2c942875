// Package notifier broadcasts piece state transitions to observers.  The
// Hub fans events out to in-process subscribers (the SSE handlers); the
// AMQP publisher mirrors the same events onto the broker so other server
// instances can feed their own hubs.  The notifier is not a source of
// truth: delivery is best-effort, at most once, and subscribers re-fetch
// from the piece store whenever they (re)connect.
package notifier

import (
	"context"
	"sync"

	"github.com/atelierhq/piece-market/internal/queue"
)

// Publisher emits a piece status event to interested observers.  Callers
// treat failures as non-fatal: a missed notification costs staleness, not
// correctness.
type Publisher interface {
	Publish(ctx context.Context, ev queue.PieceStatusEvent) error
}

// Hub is an in-process broadcaster with one topic per collection.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan queue.PieceStatusEvent]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan queue.PieceStatusEvent]struct{})}
}

// Subscribe registers an observer for one collection.  The returned cancel
// function must be called when the observer goes away; it closes the
// channel.  The channel is buffered and sends never block: an observer that
// falls behind loses events and is expected to re-fetch.
func (h *Hub) Subscribe(collectionID string) (<-chan queue.PieceStatusEvent, func()) {
	ch := make(chan queue.PieceStatusEvent, 16)
	h.mu.Lock()
	set, ok := h.subs[collectionID]
	if !ok {
		set = make(map[chan queue.PieceStatusEvent]struct{})
		h.subs[collectionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[collectionID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, collectionID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its collection.  Slow
// subscribers are skipped rather than blocked on.
func (h *Hub) Publish(_ context.Context, ev queue.PieceStatusEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.CollectionID] {
		select {
		case ch <- ev:
		default: // subscriber is behind; it will re-fetch
		}
	}
	return nil
}

// Fanout combines publishers; each event goes to all of them.  The first
// error is returned after every publisher has been attempted.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev queue.PieceStatusEvent) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
