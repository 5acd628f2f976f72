package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/storage"
)

// Orphan reasons recorded in the ledger.
const (
	ReasonPersistFailed = "persist_failed"
	ReasonAbandoned     = "abandoned"
)

// OrphanFlagger records remote objects that no metadata record refers to.
// A nil ledger only logs.
type OrphanFlagger struct {
	ledger   asset.OrphanLedger
	observer Observer
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOrphanFlagger creates an OrphanFlagger.
func NewOrphanFlagger(ledger asset.OrphanLedger, observer Observer, logger *slog.Logger) *OrphanFlagger {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &OrphanFlagger{
		ledger:   ledger,
		observer: observer,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Flag records publicID as orphaned. Failures are logged and swallowed; the
// caller has already decided the request outcome.
func (f *OrphanFlagger) Flag(ctx context.Context, publicID string, kind asset.Kind, reason string) {
	f.observer.RecordOrphan(kind)
	f.logger.Warn("remote object orphaned",
		slog.String("public_id", publicID),
		slog.String("kind", string(kind)),
		slog.String("reason", reason),
	)
	if f.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	err := f.ledger.Flag(ctx, &asset.Orphan{
		PublicID: publicID,
		Kind:     kind,
		Reason:   reason,
	})
	if err != nil {
		f.logger.Error("failed to flag orphan",
			slog.String("public_id", publicID),
			slog.String("error", err.Error()),
		)
	}
}

// Abandoned is a storage.AbandonFunc that flags uploads which completed
// after their request gave up.
func (f *OrphanFlagger) Abandoned(desc storage.Descriptor, profile storage.Profile) {
	kind, err := asset.ParseKind(profile.ResourceType)
	if err != nil {
		kind = asset.KindImage
	}
	f.Flag(context.Background(), desc.PublicID, kind, ReasonAbandoned)
}
