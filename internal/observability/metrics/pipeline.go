package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// PipelineMetrics covers the announcement workflow and the embedding cache.
// It registers into a registry owned by the HTTP or worker metrics.
type PipelineMetrics struct {
	service string

	phaseDuration *prometheus.HistogramVec
	workflowRuns  *prometheus.CounterVec
	cacheTotal    *prometheus.CounterVec
	persistFails  *prometheus.CounterVec
}

// NewPipelineMetrics registers the collectors on reg unless it is nil.
func NewPipelineMetrics(reg prometheus.Registerer, service string) *PipelineMetrics {
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "phase_duration_seconds",
			Help:      "Workflow phase duration in seconds by phase and status.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "phase", "status"},
	)
	workflowRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Finished workflow runs by outcome.",
		},
		[]string{"service", "status"},
	)
	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "embedding",
			Name:        "cache_total",
			Help:        "Embedding cache lookups by result.",
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"result"},
	)
	persistFails := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Writes that failed after their result was returned to the caller.",
		},
		[]string{"service", "store"},
	)
	if reg != nil {
		reg.MustRegister(phaseDuration, workflowRuns, cacheTotal, persistFails)
	}

	return &PipelineMetrics{
		service:       service,
		phaseDuration: phaseDuration,
		workflowRuns:  workflowRuns,
		cacheTotal:    cacheTotal,
		persistFails:  persistFails,
	}
}

// ObservePhase implements ports.PhaseObserver.
func (m *PipelineMetrics) ObservePhase(phase domain.Phase, elapsedSeconds float64, err error) {
	m.phaseDuration.WithLabelValues(m.service, string(phase), outcome(err)).Observe(elapsedSeconds)
}

func (m *PipelineMetrics) RecordWorkflowRun(err error) {
	m.workflowRuns.WithLabelValues(m.service, outcome(err)).Inc()
}

// RecordPersistFailure implements ports.PersistFailureRecorder.
func (m *PipelineMetrics) RecordPersistFailure(store string) {
	m.persistFails.WithLabelValues(m.service, store).Inc()
}

// EmbeddingCacheTotal is handed to the caching embedder.
func (m *PipelineMetrics) EmbeddingCacheTotal() *prometheus.CounterVec {
	return m.cacheTotal
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
