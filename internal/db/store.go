package db

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/media-ingest-api/internal/asset"
)

// Store is the PostgreSQL implementation of asset.Store and asset.OrphanLedger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Acquire reserves a pooled connection for one pipeline run.
func (s *Store) Acquire(ctx context.Context) (asset.Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{c: c}, nil
}

type conn struct {
	c        *pgxpool.Conn
	released atomic.Bool
}

const insertVideo = `
INSERT INTO videos (title, description, public_id, original_size, compressed_size, duration)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id::text, created_at, updated_at`

// Insert writes rec and fills in its ID and timestamps.
func (c *conn) Insert(ctx context.Context, rec *asset.Record) error {
	if c.released.Load() {
		return asset.ErrConnReleased
	}
	err := c.c.QueryRow(ctx, insertVideo,
		rec.Title,
		rec.Description,
		rec.PublicID,
		rec.OriginalSize,
		rec.CompressedSize,
		rec.Duration,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", asset.ErrDuplicatePublicID, rec.PublicID)
		}
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// Release returns the connection to the pool.
func (c *conn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.c.Release()
	}
}

const insertOrphan = `
INSERT INTO orphaned_uploads (public_id, kind, reason, flagged_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
RETURNING id::text, flagged_at`

// Flag records a new orphan.
func (s *Store) Flag(ctx context.Context, o *asset.Orphan) error {
	var flaggedAt *time.Time
	if !o.FlaggedAt.IsZero() {
		flaggedAt = &o.FlaggedAt
	}
	err := s.pool.QueryRow(ctx, insertOrphan, o.PublicID, string(o.Kind), o.Reason, flaggedAt).
		Scan(&o.ID, &o.FlaggedAt)
	if err != nil {
		return fmt.Errorf("insert orphan: %w", err)
	}
	return nil
}

const selectPending = `
SELECT id::text, public_id, kind, reason, flagged_at
FROM orphaned_uploads
WHERE swept_at IS NULL AND flagged_at <= $1
ORDER BY flagged_at
LIMIT $2`

// Pending returns unswept orphans flagged at or before cutoff, oldest first.
// A limit <= 0 returns all of them.
func (s *Store) Pending(ctx context.Context, cutoff time.Time, limit int) ([]asset.Orphan, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, selectPending, cutoff, lim)
	if err != nil {
		return nil, fmt.Errorf("query pending orphans: %w", err)
	}
	orphans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (asset.Orphan, error) {
		var o asset.Orphan
		var kind string
		if err := row.Scan(&o.ID, &o.PublicID, &kind, &o.Reason, &o.FlaggedAt); err != nil {
			return o, err
		}
		o.Kind = asset.Kind(kind)
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending orphans: %w", err)
	}
	return orphans, nil
}

const selectCommitted = `SELECT EXISTS (SELECT 1 FROM videos WHERE public_id = $1)`

// Committed reports whether a videos row refers to publicID.
func (s *Store) Committed(ctx context.Context, publicID string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, selectCommitted, publicID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check committed record: %w", err)
	}
	return ok, nil
}

const markSwept = `UPDATE orphaned_uploads SET swept_at = $2 WHERE id = $1`

// MarkSwept sets SweptAt on an orphan.
func (s *Store) MarkSwept(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, markSwept, id, at)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return asset.ErrOrphanNotFound
		}
		return fmt.Errorf("mark orphan swept: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return asset.ErrOrphanNotFound
	}
	return nil
}

var (
	_ asset.Store        = (*Store)(nil)
	_ asset.OrphanLedger = (*Store)(nil)
)

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
