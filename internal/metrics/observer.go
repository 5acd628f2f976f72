// Package metrics exports upload pipeline and reconciler metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/maauso/media-ingest-api/internal/asset"
	"github.com/maauso/media-ingest-api/internal/ingest"
	"github.com/maauso/media-ingest-api/internal/reconcile"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "media_ingest"

// PrometheusObserver records pipeline and sweep measurements.
type PrometheusObserver struct {
	operationDuration *promclient.HistogramVec
	operationErrors   *promclient.CounterVec
	uploadedBytes     *promclient.CounterVec
	requests          *promclient.CounterVec
	orphansFlagged    *promclient.CounterVec
	orphansSwept      *promclient.CounterVec
}

// NewPrometheusObserver registers the collectors with reg. Collectors that
// are already registered are reused.
func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &PrometheusObserver{}
	var err error
	if o.operationDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of remote uploads, metadata writes and sweeps.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.operationErrors, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Count of failed remote uploads, metadata writes and sweeps.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if o.uploadedBytes, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Cumulative size of stored artifacts as reported by the remote service.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if o.requests, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Upload requests by asset kind and outcome.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if o.orphansFlagged, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_flagged_total",
		Help:      "Remote objects left without a metadata record.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if o.orphansSwept, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_swept_total",
		Help:      "Orphaned remote objects processed by the reconciler.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T promclient.Collector](reg promclient.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// RecordUpload tracks upload duration, size, and failures.
func (o *PrometheusObserver) RecordUpload(kind asset.Kind, elapsed time.Duration, bytes int64, err error) {
	if o == nil {
		return
	}
	o.recordOperation("upload_"+string(kind), elapsed, err)
	if err == nil && bytes > 0 {
		o.uploadedBytes.WithLabelValues(string(kind)).Add(float64(bytes))
	}
}

func (o *PrometheusObserver) RecordPersist(elapsed time.Duration, err error) {
	if o == nil {
		return
	}
	o.recordOperation("persist", elapsed, err)
}

func (o *PrometheusObserver) RecordOutcome(kind asset.Kind, outcome string) {
	if o == nil {
		return
	}
	o.requests.WithLabelValues(string(kind), outcome).Inc()
}

func (o *PrometheusObserver) RecordOrphan(kind asset.Kind) {
	if o == nil {
		return
	}
	o.orphansFlagged.WithLabelValues(string(kind)).Inc()
}

// RecordSweep tracks one reconciler pass.
func (o *PrometheusObserver) RecordSweep(elapsed time.Duration, swept, failed int, err error) {
	if o == nil {
		return
	}
	o.recordOperation("sweep", elapsed, err)
	o.orphansSwept.WithLabelValues("deleted").Add(float64(swept))
	o.orphansSwept.WithLabelValues("failed").Add(float64(failed))
}

func (o *PrometheusObserver) recordOperation(op string, elapsed time.Duration, err error) {
	o.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(op).Inc()
	}
}

var (
	_ ingest.Observer    = (*PrometheusObserver)(nil)
	_ reconcile.Observer = (*PrometheusObserver)(nil)
)
