package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mutationPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soa_service",
		Subsystem: "persistence",
		Name:      "last_mutation_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent schedule mutation committed to Postgres.",
	})
	mutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soa_service",
		Subsystem: "persistence",
		Name:      "mutations_total",
		Help:      "Count of committed schedule mutations, labeled by operation.",
	}, []string{"operation"})
	exportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "soa_service",
		Subsystem: "export",
		Name:      "normalize_duration_seconds",
		Help:      "Time spent serializing the wide table and running the normalization pipeline.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(mutationPersistGauge, mutationCounter, exportDuration)
}

// RecordMutation updates the persistence watermark gauge and per-operation counter.
func RecordMutation(operation string, ts time.Time) {
	if !ts.IsZero() {
		mutationPersistGauge.Set(float64(ts.Unix()))
	}
	mutationCounter.WithLabelValues(operation).Inc()
}

// ObserveExport records the duration of one export-and-normalize run.
func ObserveExport(elapsed time.Duration) {
	exportDuration.Observe(elapsed.Seconds())
}
