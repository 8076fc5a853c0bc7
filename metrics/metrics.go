// Package metrics exports per-run asset counters in the Prometheus text
// format, for a node-exporter textfile collector to pick up after the build.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/franksops/assetdock/engine"
)

const namespace = "assetdock"

// Result label values.
const (
	ResultFetched = "fetched"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Recorder counts asset outcomes. It is an engine.Observer.
type Recorder struct {
	registry *prometheus.Registry

	assets   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry, so repeated runs in
// one process never collide on registration.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		// Labels: manifest, result (fetched, skipped, failed)
		assets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Assets processed, by manifest and result",
		}, []string{"manifest", "result"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes written to disk by completed transfers",
		}, []string{"manifest"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Transfer attempts, including the unauthenticated fallback",
		}, []string{"manifest"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time per asset from start to outcome",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) AssetStarted(engine.TransferJob) {}

func (r *Recorder) AssetProgress(engine.TransferJob, int64, int64) {}

func (r *Recorder) AssetFinished(job engine.TransferJob, o engine.Outcome) {
	result := resultOf(o)
	r.assets.WithLabelValues(job.Manifest, result).Inc()
	r.attempts.WithLabelValues(job.Manifest).Add(float64(o.Attempts))
	if result == ResultFetched {
		r.bytes.WithLabelValues(job.Manifest).Add(float64(o.Bytes))
	}
	r.duration.WithLabelValues(result).Observe(o.Duration.Seconds())
}

// WriteTextfile atomically writes every metric to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func resultOf(o engine.Outcome) string {
	switch {
	case !o.Succeeded:
		return ResultFailed
	case o.Skipped:
		return ResultSkipped
	default:
		return ResultFetched
	}
}
