package ingest

import (
	"time"

	"github.com/maauso/media-ingest-api/internal/asset"
)

// Observer receives pipeline measurements.
type Observer interface {
	// RecordUpload is called once per remote upload attempt.
	RecordUpload(kind asset.Kind, elapsed time.Duration, bytes int64, err error)
	// RecordPersist is called once per metadata write attempt.
	RecordPersist(elapsed time.Duration, err error)
	// RecordOutcome is called once per request with "ok" or the error kind.
	RecordOutcome(kind asset.Kind, outcome string)
	// RecordOrphan is called each time a remote object is flagged as orphaned.
	RecordOrphan(kind asset.Kind)
}

// NopObserver discards all measurements.
type NopObserver struct{}

func (NopObserver) RecordUpload(asset.Kind, time.Duration, int64, error) {}
func (NopObserver) RecordPersist(time.Duration, error)                   {}
func (NopObserver) RecordOutcome(asset.Kind, string)                     {}
func (NopObserver) RecordOrphan(asset.Kind)                              {}
