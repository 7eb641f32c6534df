package httpadapter

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// processAnnouncement runs the whole pipeline for an uploaded file and
// streams every checkpoint. The last event is named completed or failed.
func (rt *Router) processAnnouncement(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Workflow == nil {
		notConfigured(w, r)
		return
	}
	file, header, err := readUpload(w, r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer file.Close()

	stream, err := newSSEWriter(w)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	failedSent := false
	upload := domain.Upload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Body:     file,
	}
	_, err = rt.svc.Workflow.ProcessAnnouncement(r.Context(), upload, func(update domain.ProgressUpdate) {
		event := "progress"
		switch update.Phase {
		case domain.PhaseCompleted:
			event = "completed"
		case domain.PhaseFailed:
			event = "failed"
			failedSent = true
		}
		if sendErr := stream.send(event, update); sendErr != nil {
			rt.logger.Debug("sse_send_failed", zap.String("event", event), zap.Error(sendErr))
		}
	})
	if err != nil {
		rt.logger.Warn("workflow_failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("filename", header.Filename),
			zap.Error(err),
		)
		if !failedSent {
			_ = stream.send("failed", domain.ProgressUpdate{Phase: domain.PhaseFailed, Message: err.Error()})
		}
	}
}
