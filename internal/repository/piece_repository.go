package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atelierhq/piece-market/internal/model"
)

// PieceStore is the storage contract the reservation core depends on.  It
// deliberately exposes a single kind of mutation: a conditional update that
// succeeds only when the row still carries the expected version and
// satisfies the write's predicate.  No other code path writes piece status.
//
// All three CAS methods bump pieces.version by one on success and return
// ErrVersionConflict when zero rows matched.  Timestamps are compared in
// UTC.
type PieceStore interface {
	// GetByID loads a single piece or ErrPieceNotFound.
	GetByID(ctx context.Context, pieceID string) (model.Piece, error)
	// ListByCollection returns all pieces of a collection ordered by their
	// display number.
	ListByCollection(ctx context.Context, collectionID string) ([]model.Piece, error)
	// ListExpired returns up to limit reserved pieces whose lease deadline
	// is at or before now.  Used by the sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Piece, error)
	// HasActiveReservation reports whether the user holds any unexpired
	// lease.  It backs the one-active-claim-per-user policy guard and is
	// advisory only; it may race with concurrent writes.
	HasActiveReservation(ctx context.Context, userID string, now time.Time) (bool, error)

	// CASReserve claims the piece for userID until the given deadline.
	// Predicate: the row is available, or reserved with a deadline at or
	// before now (a stale lease is cleared by the same write).
	CASReserve(ctx context.Context, pieceID, userID string, until, now time.Time, expectVersion uint64) error
	// CASRelease returns a reserved piece to the pool, clearing the lease.
	// Predicate: the row is reserved.
	CASRelease(ctx context.Context, pieceID string, expectVersion uint64) error
	// CASFinalize marks the piece sold.  Predicate: the row is reserved by
	// userID.  reserved_by is retained on the sold row for audit;
	// reserved_until is cleared.
	CASFinalize(ctx context.Context, pieceID, userID string, expectVersion uint64) error
}

// pieceColumns is the select list shared by every read query.
const pieceColumns = `id, collection_id, piece_number, price_cents, status, reserved_by, reserved_until, version, created_at, updated_at`

// MySQLPieceStore implements PieceStore on top of the pieces table.
type MySQLPieceStore struct {
	db *sql.DB
}

// NewMySQLPieceStore returns a store bound to the provided database.
func NewMySQLPieceStore(db *sql.DB) *MySQLPieceStore { return &MySQLPieceStore{db: db} }

// DB exposes the underlying handle for seeding helpers.
func (s *MySQLPieceStore) DB() *sql.DB { return s.db }

func scanPiece(row interface{ Scan(...any) error }) (model.Piece, error) {
	var (
		p     model.Piece
		by    sql.NullString
		until sql.NullTime
	)
	err := row.Scan(&p.ID, &p.CollectionID, &p.Number, &p.PriceCents, &p.Status, &by, &until, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Piece{}, err
	}
	if by.Valid {
		v := by.String
		p.ReservedBy = &v
	}
	if until.Valid {
		t := until.Time.UTC()
		p.ReservedUntil = &t
	}
	return p, nil
}

// GetByID fetches one piece row.
func (s *MySQLPieceStore) GetByID(ctx context.Context, pieceID string) (model.Piece, error) {
	const q = `SELECT ` + pieceColumns + ` FROM pieces WHERE id = ?`
	p, err := scanPiece(s.db.QueryRowContext(ctx, q, pieceID))
	if err == sql.ErrNoRows {
		return model.Piece{}, ErrPieceNotFound
	}
	if err != nil {
		return model.Piece{}, fmt.Errorf("get piece: %w", err)
	}
	return p, nil
}

// ListByCollection returns the full pool of a collection in display order.
// List queries filter only by stored status; the lazy-expiry view is applied
// by the caller when rendering, and the sweep keeps stored rows honest.
func (s *MySQLPieceStore) ListByCollection(ctx context.Context, collectionID string) ([]model.Piece, error) {
	const q = `SELECT ` + pieceColumns + ` FROM pieces WHERE collection_id = ? ORDER BY piece_number`
	rows, err := s.db.QueryContext(ctx, q, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list pieces: %w", err)
	}
	defer rows.Close()
	var pieces []model.Piece
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, fmt.Errorf("scan piece: %w", err)
		}
		pieces = append(pieces, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pieces, nil
}

// ListExpired returns reserved rows whose deadline has passed, oldest first.
func (s *MySQLPieceStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Piece, error) {
	const q = `SELECT ` + pieceColumns + ` FROM pieces
               WHERE status = 'reserved' AND reserved_until <= ?
               ORDER BY reserved_until LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()
	var pieces []model.Piece
	for rows.Next() {
		p, err := scanPiece(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired piece: %w", err)
		}
		pieces = append(pieces, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pieces, nil
}

// HasActiveReservation checks for any unexpired lease held by the user.
func (s *MySQLPieceStore) HasActiveReservation(ctx context.Context, userID string, now time.Time) (bool, error) {
	const q = `SELECT COUNT(*) FROM pieces
               WHERE reserved_by = ? AND status = 'reserved' AND reserved_until > ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, now.UTC()).Scan(&n); err != nil {
		return false, fmt.Errorf("count active reservations: %w", err)
	}
	return n > 0, nil
}

// CASReserve performs the reserve conditional update.  The version check
// alone already rejects stale writers; the status predicate is kept in the
// same statement so the row can never be claimed out of an unexpected state.
func (s *MySQLPieceStore) CASReserve(ctx context.Context, pieceID, userID string, until, now time.Time, expectVersion uint64) error {
	const q = `UPDATE pieces
               SET status = 'reserved', reserved_by = ?, reserved_until = ?, version = version + 1
               WHERE id = ? AND version = ?
                 AND (status = 'available' OR (status = 'reserved' AND reserved_until <= ?))`
	res, err := s.db.ExecContext(ctx, q, userID, until.UTC(), pieceID, expectVersion, now.UTC())
	if err != nil {
		return fmt.Errorf("reserve piece: %w", err)
	}
	return casOutcome(res)
}

// CASRelease performs the release conditional update (cancel or sweep).
func (s *MySQLPieceStore) CASRelease(ctx context.Context, pieceID string, expectVersion uint64) error {
	const q = `UPDATE pieces
               SET status = 'available', reserved_by = NULL, reserved_until = NULL, version = version + 1
               WHERE id = ? AND version = ? AND status = 'reserved'`
	res, err := s.db.ExecContext(ctx, q, pieceID, expectVersion)
	if err != nil {
		return fmt.Errorf("release piece: %w", err)
	}
	return casOutcome(res)
}

// CASFinalize performs the sale conditional update.
func (s *MySQLPieceStore) CASFinalize(ctx context.Context, pieceID, userID string, expectVersion uint64) error {
	const q = `UPDATE pieces
               SET status = 'sold', reserved_until = NULL, version = version + 1
               WHERE id = ? AND version = ? AND status = 'reserved' AND reserved_by = ?`
	res, err := s.db.ExecContext(ctx, q, pieceID, expectVersion, userID)
	if err != nil {
		return fmt.Errorf("finalize piece: %w", err)
	}
	return casOutcome(res)
}

func casOutcome(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SeedPieces bulk-inserts pieces for a collection.  Used by fixtures and the
// admin import; published pieces start available at version 1.
func (s *MySQLPieceStore) SeedPieces(ctx context.Context, pieces []model.Piece) error {
	if len(pieces) == 0 {
		return nil
	}
	query := `INSERT INTO pieces (id, collection_id, piece_number, price_cents, status, version) VALUES `
	args := make([]interface{}, 0, len(pieces)*6)
	for i, p := range pieces {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		status := p.Status
		if status == "" {
			status = model.StatusAvailable
		}
		version := p.Version
		if version == 0 {
			version = 1
		}
		args = append(args, p.ID, p.CollectionID, p.Number, p.PriceCents, status, version)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("seed pieces: %w", err)
	}
	return nil
}
