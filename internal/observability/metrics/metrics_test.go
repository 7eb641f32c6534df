package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return m.Middleware("api", next) })
	r.Get("/v1/documents/{documentID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/"+id, nil))
	}

	got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodGet, "/v1/documents/{documentID}", "404"))
	assert.Equal(t, 2.0, got)
}

func TestRecordSearch(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordSearch("api", "hybrid", 4, 20*time.Millisecond, nil)
	m.RecordSearch("api", "hybrid", 0, time.Millisecond, errors.New("boom"))
	m.RecordSearch("api", "", 1, time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchTotal.WithLabelValues("api", "hybrid", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchTotal.WithLabelValues("api", "hybrid", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchTotal.WithLabelValues("api", "unknown", "success")))
}

func TestPipelineMetricsShareRegistry(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	p := NewPipelineMetrics(m.Registry(), "api")

	p.ObservePhase(domain.PhaseMatching, 0.2, nil)
	p.ObservePhase(domain.PhaseEstimates, 1.5, errors.New("llm down"))
	p.RecordWorkflowRun(nil)
	p.EmbeddingCacheTotal().WithLabelValues("hit").Inc()
	p.RecordPersistFailure("metadata")

	count, err := testutil.GatherAndCount(m.Registry(), "bidmatch_workflow_phase_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.workflowRuns.WithLabelValues("api", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.cacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.persistFails.WithLabelValues("api", "metadata")))

	body := httptest.NewRecorder()
	m.Handler().ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(body.Body.String(), "bidmatch_embedding_cache_total"))
}

func TestWorkerJobMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartJob(JobAnalysis)
	m.FinishJob("worker", JobAnalysis, time.Second, nil)
	m.StartJob(JobDocument)
	m.FinishJob("worker", JobDocument, time.Second, errors.New("extract failed"))
	m.ObserveQueueLag("worker", JobDocument, -time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobInFlight.WithLabelValues(JobAnalysis)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTotal.WithLabelValues("worker", JobAnalysis, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTotal.WithLabelValues("worker", JobDocument, "error")))
	count, err := testutil.GatherAndCount(m.Registry(), "bidmatch_worker_queue_lag_seconds")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestResilienceMetrics(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	r := NewResilienceMetrics(m.Registry(), "api")

	r.ObserveRetry("openai.embed")
	r.ObserveRetry("openai.embed")
	r.ObserveBreakerState("openai.embed", "open")
	r.ObserveBreakerState("nats.publish", "half-open")
	r.ObserveBreakerState("nats.publish", "bogus")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries.WithLabelValues("openai.embed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.breaker.WithLabelValues("openai.embed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breaker.WithLabelValues("nats.publish")))
}
