// Package httpadapter exposes the announcement pipeline over HTTP.
package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/config"
	"github.com/kirillkom/bidmatch/internal/core/ports"
	"github.com/kirillkom/bidmatch/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxUploadBytes  = 32 << 20
	backpressureMax = 250 * time.Millisecond
)

// Services are the inbound use cases served by the router. A nil service
// answers its routes with 501.
type Services struct {
	Ingestor  ports.DocumentIngestor
	Documents ports.DocumentReader
	Search    ports.SearchService
	Metadata  ports.MetadataService
	Analysis  ports.AnalysisService
	Matching  ports.MatchingService
	Drafts    ports.DraftService
	Workflow  ports.AnnouncementProcessor
}

type Router struct {
	cfg       config.Config
	svc       Services
	metrics   *metrics.HTTPServerMetrics
	logger    *zap.Logger
	validator *requestValidator
}

func NewRouter(cfg config.Config, svc Services, m *metrics.HTTPServerMetrics, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		svc:       svc,
		metrics:   m,
		logger:    logger,
		validator: validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.logger))
	if rt.metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.metrics.Middleware(serviceName, next)
		})
	}

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(rt.trafficControl)
		r.Use(rt.validator.Middleware)

		r.Post("/documents", rt.uploadDocument)
		r.Get("/documents/{documentID}", rt.getDocument)
		r.Get("/documents/{documentID}/metadata", rt.getMetadata)
		r.Post("/documents/{documentID}/metadata", rt.extractMetadata)
		r.Post("/documents/{documentID}/matches", rt.matchTeams)
		r.Get("/documents/{documentID}/matches", rt.listMatches)
		r.Post("/documents/{documentID}/candidates/{candidateID}/draft", rt.generateDraft)
		r.Get("/documents/{documentID}/candidates/{candidateID}/draft", rt.getDraft)
		r.Post("/documents/{documentID}/analysis", rt.startAnalysis)
		r.Get("/analysis/{jobID}", rt.getAnalysisJob)
		r.Get("/analysis/{jobID}/events", rt.streamAnalysisEvents)
		r.Post("/search", rt.search)
		r.Post("/announcements", rt.processAnnouncement)
	})
	return r
}

func (rt *Router) trafficControl(next http.Handler) http.Handler {
	reject := func(reason string) func() {
		if rt.metrics == nil {
			return nil
		}
		return func() { rt.metrics.RecordRejected(serviceName, reason) }
	}
	h := backpressureMiddleware(next, rt.cfg.APIMaxInFlight, backpressureMax, reject("in_flight"))
	return rateLimitMiddleware(h, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, reject("rate_limit"))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, RequestID: requestIDFromContext(r.Context())})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeErrorMessage(w, r, status, err.Error())
}

var errServiceUnavailable = errors.New("service is not configured")

func notConfigured(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, r, http.StatusNotImplemented, errServiceUnavailable.Error())
}

// decodeJSON reads an optional JSON body into dst. An empty body keeps dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
