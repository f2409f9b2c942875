package model

import (
	"time"

	"github.com/google/uuid"
)

// PieceStatus enumerates the lifecycle states of a piece.  A piece starts
// as available, cycles between available and reserved while buyers claim
// and release it, and ends as sold.  Sold is terminal.
type PieceStatus string

const (
	StatusAvailable PieceStatus = "available" // free for any buyer to reserve
	StatusReserved  PieceStatus = "reserved"  // held by one buyer until reserved_until
	StatusSold      PieceStatus = "sold"      // purchased; no further transitions
)

// Piece is a uniquely numbered, individually sellable item within a
// collection.  Exactly one buyer may hold a piece at a time and at most
// one buyer ever owns it.
//
// Fields:
//
//	ID            – pieces.id, opaque UUID, immutable.
//	CollectionID  – pieces.collection_id, grouping for listings and events.
//	Number        – pieces.piece_number, display ordinal within the collection.
//	PriceCents    – pieces.price_cents, immutable once published.
//	Status        – pieces.status (available, reserved, sold).
//	ReservedBy    – pieces.reserved_by, set iff status is reserved.
//	ReservedUntil – pieces.reserved_until, lease deadline, set iff reserved.
//	Version       – pieces.version, bumped on every successful write; stale
//	                versions are rejected by the store.
//	CreatedAt     – pieces.created_at.
//	UpdatedAt     – pieces.updated_at.
type Piece struct {
	ID            string
	CollectionID  string
	Number        uint32
	PriceCents    uint32
	Status        PieceStatus
	ReservedBy    *string
	ReservedUntil *time.Time
	Version       uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPiece builds a freshly published piece: available, version 1, with a
// generated id.  Used by the seed import and test fixtures.
func NewPiece(collectionID string, number, priceCents uint32) Piece {
	return Piece{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Number:       number,
		PriceCents:   priceCents,
		Status:       StatusAvailable,
		Version:      1,
	}
}

// LeaseExpired reports whether the piece carries a lease whose deadline has
// passed at the given instant.  Readers must treat such a piece as available
// even when the stored row has not been rewritten yet; only the sweep or the
// next conditional write actually reverts it.
func (p *Piece) LeaseExpired(now time.Time) bool {
	return p.Status == StatusReserved && p.ReservedUntil != nil && !p.ReservedUntil.After(now)
}

// EffectiveStatus returns the status a caller should act on at the given
// instant: reserved rows with a lapsed deadline count as available.
func (p *Piece) EffectiveStatus(now time.Time) PieceStatus {
	if p.LeaseExpired(now) {
		return StatusAvailable
	}
	return p.Status
}

// Lease is a time-bounded exclusive claim on a piece.  The deadline is
// fixed at creation and never extended; the server, not the client timer,
// is the authority on whether it still holds.
type Lease struct {
	PieceID       string    `json:"piece_id"`
	UserID        string    `json:"user_id"`
	ReservedUntil time.Time `json:"reserved_until"`
}
