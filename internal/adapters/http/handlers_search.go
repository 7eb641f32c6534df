package httpadapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

type searchRequest struct {
	Query       string                `json:"query"`
	Mode        string                `json:"mode"`
	TopK        int                   `json:"top_k"`
	Threshold   *float64              `json:"threshold"`
	Lambda      *float64              `json:"lambda"`
	FetchK      int                   `json:"fetch_k"`
	Strategy    string                `json:"strategy"`
	Weights     *domain.FusionWeights `json:"weights"`
	DocumentIDs []string              `json:"document_ids"`
}

type searchResponse struct {
	Mode    string                   `json:"mode"`
	Results []domain.RetrievedResult `json:"results"`
}

const defaultSearchMode = "hybrid"

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Search == nil {
		notConfigured(w, r)
		return
	}
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, "query is required")
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = defaultSearchMode
	}

	start := time.Now()
	results, err := rt.runSearch(r.Context(), mode, req)
	if rt.metrics != nil {
		rt.metrics.RecordSearch(serviceName, mode, len(results), time.Since(start), err)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Mode: mode, Results: nonNil(results)})
}

func (rt *Router) runSearch(ctx context.Context, mode string, req searchRequest) ([]domain.RetrievedResult, error) {
	switch mode {
	case "vector":
		return rt.svc.Search.SearchText(ctx, req.Query, domain.SearchOptions{
			TopK:        req.TopK,
			Threshold:   req.Threshold,
			DocumentIDs: req.DocumentIDs,
		})
	case "mmr":
		return rt.svc.Search.SearchTextMMR(ctx, req.Query, domain.MMROptions{
			TopK:        req.TopK,
			Lambda:      req.Lambda,
			FetchK:      req.FetchK,
			DocumentIDs: req.DocumentIDs,
		})
	case "keyword":
		return rt.svc.Search.KeywordSearch(ctx, req.Query, domain.SearchOptions{
			TopK:        req.TopK,
			DocumentIDs: req.DocumentIDs,
		})
	case "hybrid":
		return rt.svc.Search.HybridSearch(ctx, req.Query, domain.HybridOptions{
			TopK:        req.TopK,
			Candidates:  req.FetchK,
			DocumentIDs: req.DocumentIDs,
			Weights:     req.Weights,
			Strategy:    domain.FusionStrategy(strings.ToLower(req.Strategy)),
		})
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("unknown search mode %q", mode))
	}
}
