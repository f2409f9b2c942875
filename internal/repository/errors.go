// Package repository provides durable storage for pieces.  The only write
// path is a conditional update keyed on the row version, so concurrent
// writers compose without any in-process locking.  Sentinel errors defined
// here let higher layers distinguish storage outcomes with errors.Is.
package repository

import "errors"

// ErrPieceNotFound is returned when no piece row exists for the given id.
var ErrPieceNotFound = errors.New("piece not found")

// ErrVersionConflict is returned when a conditional update matched no row:
// either the expected version was stale or the row no longer satisfied the
// write's predicate.  The caller lost a race and must re-read before
// deciding anything else.
var ErrVersionConflict = errors.New("version conflict")
