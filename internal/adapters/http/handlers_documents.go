package httpadapter

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

// readUpload returns the multipart "file" part. The caller closes it.
func readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("file exceeds upload limit"))
		}
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("multipart field 'file' is required"))
	}
	return file, header, nil
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Ingestor == nil {
		notConfigured(w, r)
		return
	}
	file, header, err := readUpload(w, r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer file.Close()

	doc, err := rt.svc.Ingestor.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Documents == nil {
		notConfigured(w, r)
		return
	}
	doc, err := rt.svc.Documents.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getMetadata(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Metadata == nil {
		notConfigured(w, r)
		return
	}
	meta, err := rt.svc.Metadata.GetMetadata(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (rt *Router) extractMetadata(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Metadata == nil {
		notConfigured(w, r)
		return
	}
	meta, err := rt.svc.Metadata.ExtractMetadata(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type matchRequest struct {
	TopN     int      `json:"top_n"`
	MinScore *float64 `json:"min_score"`
}

type matchResponse struct {
	DocumentID string                    `json:"document_id"`
	Matches    []domain.MatchedCandidate `json:"matches"`
}

func (rt *Router) matchTeams(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Matching == nil {
		notConfigured(w, r)
		return
	}
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	documentID := chi.URLParam(r, "documentID")
	matches, err := rt.svc.Matching.MatchTeams(r.Context(), documentID, domain.MatchOptions{
		TopN:     req.TopN,
		MinScore: req.MinScore,
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{DocumentID: documentID, Matches: nonNil(matches)})
}

func (rt *Router) listMatches(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Matching == nil {
		notConfigured(w, r)
		return
	}
	documentID := chi.URLParam(r, "documentID")
	matches, err := rt.svc.Matching.ListMatches(r.Context(), documentID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{DocumentID: documentID, Matches: nonNil(matches)})
}

func (rt *Router) generateDraft(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Drafts == nil {
		notConfigured(w, r)
		return
	}
	draft, err := rt.svc.Drafts.GenerateDraft(r.Context(), chi.URLParam(r, "documentID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (rt *Router) getDraft(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Drafts == nil {
		notConfigured(w, r)
		return
	}
	draft, err := rt.svc.Drafts.GetDraft(r.Context(), chi.URLParam(r, "documentID"), chi.URLParam(r, "candidateID"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
