package asset

import (
	"context"
	"errors"
	"time"
)

// Static errors for store operations.
var (
	// ErrOrphanNotFound is returned when an orphan cannot be found by ID.
	ErrOrphanNotFound = errors.New("orphan not found")
	// ErrDuplicatePublicID is returned when a record for the same remote object already exists.
	ErrDuplicatePublicID = errors.New("asset: duplicate public id")
	// ErrConnReleased is returned when a released connection is used again.
	ErrConnReleased = errors.New("asset: connection already released")
)

// Store hands out per-request connections for record inserts.
// It acts as a port in the hexagonal architecture pattern.
type Store interface {
	// Acquire reserves a connection for a single pipeline run.
	// The caller must call Release on the returned Conn exactly once.
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is a connection scoped to one pipeline run.
type Conn interface {
	// Insert persists rec and fills in its ID and timestamps.
	Insert(ctx context.Context, rec *Record) error

	// Release returns the connection to its pool. Calling it more than once is a no-op.
	Release()
}

// OrphanLedger records remote objects that lost their record and tracks
// their cleanup.
type OrphanLedger interface {
	// Flag records a new orphan and fills in its ID and FlaggedAt.
	Flag(ctx context.Context, o *Orphan) error

	// Pending returns unswept orphans flagged at or before cutoff, oldest first.
	Pending(ctx context.Context, cutoff time.Time, limit int) ([]Orphan, error)

	// Committed reports whether a saved record refers to publicID. Such an
	// object is in use and must not be deleted.
	Committed(ctx context.Context, publicID string) (bool, error)

	// MarkSwept sets SweptAt on an orphan.
	// Returns ErrOrphanNotFound if the orphan does not exist.
	MarkSwept(ctx context.Context, id string, at time.Time) error
}
