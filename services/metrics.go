package services

import (
	"sync/atomic"

	"gohan/genotypes/services/persistence"
	"gohan/genotypes/services/transposition"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	ImportMetrics struct {
		Registry *prometheus.Registry

		VariantsSaved   prometheus.Counter
		VariantsUnsaved prometheus.Counter
		ChunksCommitted prometheus.Counter
		ChunkDuration   prometheus.Histogram
		Imports         *prometheus.CounterVec

		coordinator *transposition.Coordinator
		saved       atomic.Int64
		unsaved     atomic.Int64
		chunks      atomic.Int64
	}
)

// NewImportMetrics registers the import collectors on a fresh registry.
// coordinator may be nil when matrix imports are disabled.
func NewImportMetrics(coordinator *transposition.Coordinator) *ImportMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &ImportMetrics{
		Registry:    reg,
		coordinator: coordinator,
		VariantsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "variants_saved_total",
			Help:      "Variants committed together with their run records.",
		}),
		VariantsUnsaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "variants_unsaved_total",
			Help:      "Variants left out of a commit after conflicts.",
		}),
		ChunksCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "chunks_committed_total",
			Help:      "Persistence chunks committed.",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "chunk_commit_seconds",
			Help:      "Time spent committing one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Imports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "imports_total",
			Help:      "Finished imports by format and outcome.",
		}, []string{"format", "state"}),
	}

	if coordinator != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "transpositions_rejected_total",
			Help:      "Matrix imports refused because the system was busy.",
		}, func() float64 { return float64(coordinator.Rejected()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "gohan",
			Subsystem: "genotypes",
			Name:      "transpositions_active",
			Help:      "Matrix transpositions currently running.",
		}, func() float64 { return float64(coordinator.Active()) })
	}
	return m
}

// ObserveChunk is handed to the persistence engine as its chunk callback.
func (m *ImportMetrics) ObserveChunk(stats persistence.ChunkStats) {
	m.saved.Add(int64(stats.Saved))
	m.unsaved.Add(int64(stats.Unsaved))
	m.chunks.Add(1)

	m.VariantsSaved.Add(float64(stats.Saved))
	m.VariantsUnsaved.Add(float64(stats.Unsaved))
	m.ChunksCommitted.Inc()
	m.ChunkDuration.Observe(stats.Duration.Seconds())
}

func (m *ImportMetrics) Saved() int64   { return m.saved.Load() }
func (m *ImportMetrics) Unsaved() int64 { return m.unsaved.Load() }
func (m *ImportMetrics) Chunks() int64  { return m.chunks.Load() }

func (m *ImportMetrics) RejectedTranspositions() int64 {
	if m.coordinator == nil {
		return 0
	}
	return m.coordinator.Rejected()
}
