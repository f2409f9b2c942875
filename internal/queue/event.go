// Package queue defines message payloads exchanged over the message broker
// and the background consumer that feeds broker traffic back into the
// process for live subscribers.
package queue

// PieceStatusEvent is published after every successful state transition of
// a piece (reserve, cancel, finalize, sweep revert).  It carries just enough
// for observers to update a single entry without re-fetching the pool.
// Delivery is best-effort; observers reconcile by re-fetching on reconnect,
// the piece store stays the source of truth.
type PieceStatusEvent struct {
	PieceID      string `json:"piece_id"`
	CollectionID string `json:"collection_id"`
	Status       string `json:"status"`
	OccurredAt   string `json:"occurred_at"`
	// Origin identifies the publishing server instance.  Events are
	// broadcast to every instance, including the one that produced them;
	// consumers drop their own echoes since the local hub was already
	// notified directly.
	Origin string `json:"origin,omitempty"`
}

// FromOrigin reports whether the event was published by the given instance.
// An empty origin on either side never matches.
func (e PieceStatusEvent) FromOrigin(origin string) bool {
	return origin != "" && e.Origin == origin
}
