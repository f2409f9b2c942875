package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atelierhq/piece-market/internal/model"
)

// MemoryPieceStore is an in-memory PieceStore with the same conditional
// update semantics as the MySQL implementation.  It backs unit tests of the
// reservation core and handlers, and can serve as a throwaway backend in
// local development.  A single mutex models the database's row atomicity.
type MemoryPieceStore struct {
	mu     sync.Mutex
	pieces map[string]model.Piece
}

// NewMemoryPieceStore returns an empty in-memory store.
func NewMemoryPieceStore() *MemoryPieceStore {
	return &MemoryPieceStore{pieces: make(map[string]model.Piece)}
}

// Put inserts or replaces a piece row verbatim.  Test setup helper.
func (s *MemoryPieceStore) Put(p model.Piece) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Version == 0 {
		p.Version = 1
	}
	s.pieces[p.ID] = p
}

// Snapshot returns a copy of the stored row.  Test inspection helper.
func (s *MemoryPieceStore) Snapshot(pieceID string) (model.Piece, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pieces[pieceID]
	return p, ok
}

func (s *MemoryPieceStore) GetByID(_ context.Context, pieceID string) (model.Piece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pieces[pieceID]
	if !ok {
		return model.Piece{}, ErrPieceNotFound
	}
	return p, nil
}

func (s *MemoryPieceStore) ListByCollection(_ context.Context, collectionID string) ([]model.Piece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Piece
	for _, p := range s.pieces {
		if p.CollectionID == collectionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryPieceStore) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Piece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Piece
	for _, p := range s.pieces {
		if p.LeaseExpired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedUntil.Before(*out[j].ReservedUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryPieceStore) HasActiveReservation(_ context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pieces {
		if p.Status == model.StatusReserved && p.ReservedBy != nil && *p.ReservedBy == userID &&
			p.ReservedUntil != nil && p.ReservedUntil.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryPieceStore) CASReserve(_ context.Context, pieceID, userID string, until, now time.Time, expectVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pieces[pieceID]
	if !ok || p.Version != expectVersion {
		return ErrVersionConflict
	}
	claimable := p.Status == model.StatusAvailable || p.LeaseExpired(now)
	if !claimable {
		return ErrVersionConflict
	}
	u := until.UTC()
	by := userID
	p.Status = model.StatusReserved
	p.ReservedBy = &by
	p.ReservedUntil = &u
	p.Version++
	s.pieces[pieceID] = p
	return nil
}

func (s *MemoryPieceStore) CASRelease(_ context.Context, pieceID string, expectVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pieces[pieceID]
	if !ok || p.Version != expectVersion || p.Status != model.StatusReserved {
		return ErrVersionConflict
	}
	p.Status = model.StatusAvailable
	p.ReservedBy = nil
	p.ReservedUntil = nil
	p.Version++
	s.pieces[pieceID] = p
	return nil
}

func (s *MemoryPieceStore) CASFinalize(_ context.Context, pieceID, userID string, expectVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pieces[pieceID]
	if !ok || p.Version != expectVersion || p.Status != model.StatusReserved ||
		p.ReservedBy == nil || *p.ReservedBy != userID {
		return ErrVersionConflict
	}
	// reserved_by stays on the sold row for audit.
	p.Status = model.StatusSold
	p.ReservedUntil = nil
	p.Version++
	s.pieces[pieceID] = p
	return nil
}
