// Package reconcile deletes remote objects that were uploaded but never
// recorded. Orphans are flagged by the upload pipeline and swept here once
// they are older than a grace period.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// ErrAlreadyStarted is returned when Start is called on a running Sweeper.
var ErrAlreadyStarted = errors.New("reconcile: sweeper already started")

// Observer receives sweep measurements.
type Observer interface {
	RecordSweep(elapsed time.Duration, swept, failed int, err error)
}

type nopObserver struct{}

func (nopObserver) RecordSweep(time.Duration, int, int, error) {}

// Result summarizes one sweep pass.
type Result struct {
	Swept  int
	Failed int
	// Kept counts orphans closed without a delete because a saved record
	// refers to them.
	Kept int
}

// Sweeper destroys flagged orphans and marks them swept.
type Sweeper struct {
	ledger      asset.OrphanLedger
	uploader    storage.Uploader
	grace       time.Duration
	batchSize   int
	concurrency int
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option is a function that configures a Sweeper.
type Option func(*Sweeper)

// WithGrace sets how old an orphan must be before it is swept.
func WithGrace(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithBatchSize caps the orphans handled per pass.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency caps parallel remote deletes.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithObserver sets the sweep observer.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(ledger asset.OrphanLedger, uploader storage.Uploader, logger *slog.Logger, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		ledger:      ledger,
		uploader:    uploader,
		grace:       time.Hour,
		batchSize:   100,
		concurrency: 4,
		observer:    nopObserver{},
		logger:      logger.With(slog.String("service", "reconcile")),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass. Individual delete failures are counted and left
// pending for the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := s.now()
	cutoff := start.Add(-s.grace)

	orphans, err := s.ledger.Pending(ctx, cutoff, s.batchSize)
	if err != nil {
		err = fmt.Errorf("list pending orphans: %w", err)
		s.observer.RecordSweep(time.Since(start), 0, 0, err)
		return Result{}, err
	}

	var swept, failed, kept atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, o := range orphans {
		g.Go(func() error {
			deleted, err := s.sweepOne(gctx, o)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Warn("failed to sweep orphan",
					slog.String("orphan_id", o.ID),
					slog.String("public_id", o.PublicID),
					slog.String("error", err.Error()),
				)
			case deleted:
				swept.Add(1)
			default:
				kept.Add(1)
				s.logger.Info("orphan has a saved record, keeping remote object",
					slog.String("orphan_id", o.ID),
					slog.String("public_id", o.PublicID),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Swept: int(swept.Load()), Failed: int(failed.Load()), Kept: int(kept.Load())}
	if err := ctx.Err(); err != nil {
		s.observer.RecordSweep(time.Since(start), res.Swept, res.Failed, err)
		return res, err
	}
	s.observer.RecordSweep(time.Since(start), res.Swept, res.Failed, nil)
	if len(orphans) > 0 {
		s.logger.Info("orphan sweep finished",
			slog.Int("swept", res.Swept),
			slog.Int("failed", res.Failed),
			slog.Int("kept", res.Kept),
		)
	}
	return res, nil
}

// sweepOne deletes the remote object of o unless a saved record still
// refers to it, then closes the orphan. It reports whether a delete happened.
func (s *Sweeper) sweepOne(ctx context.Context, o asset.Orphan) (bool, error) {
	committed, err := s.ledger.Committed(ctx, o.PublicID)
	if err != nil {
		return false, err
	}
	if !committed {
		if err := s.uploader.Destroy(ctx, o.PublicID, storage.ProfileFor(o.Kind)); err != nil {
			return false, err
		}
	}
	if err := s.ledger.MarkSwept(ctx, o.ID, s.now()); err != nil {
		return false, err
	}
	return !committed, nil
}

// Start runs Sweep on schedule, a standard cron expression with optional
// seconds or a descriptor such as "@every 15m".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		_, _ = s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("reconcile: invalid schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("orphan sweeper started",
		slog.String("schedule", schedule),
		slog.Duration("grace", s.grace),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
