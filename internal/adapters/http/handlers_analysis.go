package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func (rt *Router) startAnalysis(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Analysis == nil {
		notConfigured(w, r)
		return
	}
	job, err := rt.svc.Analysis.StartAnalysis(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/analysis/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getAnalysisJob(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Analysis == nil {
		notConfigured(w, r)
		return
	}
	job, err := rt.svc.Analysis.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// streamAnalysisEvents replays the job state and then forwards live events
// until the job finishes. Events are named after their status.
func (rt *Router) streamAnalysisEvents(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Analysis == nil {
		notConfigured(w, r)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	if _, err := rt.svc.Analysis.GetJob(r.Context(), jobID); err != nil {
		rt.writeError(w, r, err)
		return
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	terminal := false
	_, err = rt.svc.Analysis.WaitForAnalysis(r.Context(), jobID, func(ev domain.AnalysisEvent) {
		terminal = terminal || ev.Terminal()
		if sendErr := stream.send(string(ev.Status), ev); sendErr != nil {
			rt.logger.Debug("sse_send_failed", zap.String("job_id", jobID), zap.Error(sendErr))
		}
	})
	if err != nil && !terminal && r.Context().Err() == nil {
		_ = stream.send("error", errorResponse{Error: err.Error(), RequestID: requestIDFromContext(r.Context())})
	}
}
