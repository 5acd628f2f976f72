package asset

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Compile-time checks that MemoryStore implements the store ports.
var (
	_ Store        = (*MemoryStore)(nil)
	_ OrphanLedger = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory implementation of Store and OrphanLedger.
// It uses maps with RWMutex for thread-safe access.
// Suitable for development and testing; use the PostgreSQL store in production.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	byPublic map[string]string
	orphans  map[string]Orphan
	open     atomic.Int64
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		byPublic: make(map[string]string),
		orphans:  make(map[string]Orphan),
		now:      time.Now,
	}
}

// Acquire returns a connection bound to this store.
func (s *MemoryStore) Acquire(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.open.Add(1)
	return &memoryConn{store: s}, nil
}

// OpenConns returns the number of acquired connections not yet released.
func (s *MemoryStore) OpenConns() int64 {
	return s.open.Load()
}

// FindByID retrieves a record by ID. Returns a clone to prevent external mutations.
func (s *MemoryStore) FindByID(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Records returns all stored records. Returns clones to prevent external mutations.
func (s *MemoryStore) Records() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec.Clone())
	}
	return result
}

func (s *MemoryStore) insert(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPublic[rec.PublicID]; exists {
		return ErrDuplicatePublicID
	}
	now := s.now()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = rec.Clone()
	s.byPublic[rec.PublicID] = rec.ID
	return nil
}

// Flag records a new orphan.
func (s *MemoryStore) Flag(ctx context.Context, o *Orphan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = uuid.NewString()
	if o.FlaggedAt.IsZero() {
		o.FlaggedAt = s.now()
	}
	s.orphans[o.ID] = *o
	return nil
}

// Pending returns unswept orphans flagged at or before cutoff, oldest first.
// A limit <= 0 returns all of them.
func (s *MemoryStore) Pending(ctx context.Context, cutoff time.Time, limit int) ([]Orphan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	result := make([]Orphan, 0)
	for _, o := range s.orphans {
		if !o.Swept() && !o.FlaggedAt.After(cutoff) {
			result = append(result, o)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].FlaggedAt.Before(result[j].FlaggedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Committed reports whether a record with publicID has been inserted.
func (s *MemoryStore) Committed(ctx context.Context, publicID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPublic[publicID]
	return ok, nil
}

// MarkSwept sets SweptAt on an orphan.
func (s *MemoryStore) MarkSwept(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orphans[id]
	if !ok {
		return ErrOrphanNotFound
	}
	o.SweptAt = at
	s.orphans[id] = o
	return nil
}

// Orphans returns every flagged orphan, swept or not.
func (s *MemoryStore) Orphans() []Orphan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Orphan, 0, len(s.orphans))
	for _, o := range s.orphans {
		result = append(result, o)
	}
	return result
}

type memoryConn struct {
	store    *MemoryStore
	released atomic.Bool
}

func (c *memoryConn) Insert(ctx context.Context, rec *Record) error {
	if c.released.Load() {
		return ErrConnReleased
	}
	return c.store.insert(ctx, rec)
}

func (c *memoryConn) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.store.open.Add(-1)
	}
}
