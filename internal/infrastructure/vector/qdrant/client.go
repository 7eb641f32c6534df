// Package qdrant implements the chunk store on a Qdrant collection over REST.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const (
	scrollPageSize = 256
	// keywordOverfetch widens the unranked scroll before hits are ranked locally.
	keywordOverfetch = 4
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload"`
}

type scoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

// InsertChunks replaces the document's points. Chunk ids must be UUIDs.
func (c *Client) InsertChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return c.DeleteByDocument(ctx, documentID)
	}
	if err := c.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}
	if err := c.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, point{
			ID:     chunk.ID,
			Vector: chunk.Embedding,
			Payload: map[string]any{
				"doc_id":      documentID,
				"chunk_index": chunk.Index,
				"chunk_type":  string(chunk.Type),
				"text":        chunk.Text,
				"metadata":    chunk.Metadata,
			},
		})
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert"); err != nil {
		return err
	}
	return nil
}

func (c *Client) CosineSearch(ctx context.Context, vector []float32, k int, documentIDs []string) ([]domain.ScoredChunk, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter := documentFilter(documentIDs); filter != nil {
		reqBody["filter"] = filter
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", c.collection)
	if err := c.do(ctx, http.MethodPost, path, reqBody, &resp, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := toResult(r.ID, r.Payload)
		res.Score = r.Score
		res.Relevance = r.Score
		out = append(out, domain.ScoredChunk{RetrievedResult: res, Embedding: r.Vector})
	}
	return out, nil
}

// KeywordSearch scrolls points whose prefix-tokenized text matches any term,
// then keeps the k chunks containing the most terms as substrings. Qdrant only
// matches word prefixes, so a term found in the middle of a word is missed.
func (c *Client) KeywordSearch(ctx context.Context, terms []string, k int, documentIDs []string) ([]domain.RetrievedResult, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	should := make([]map[string]any, 0, len(terms))
	for _, term := range terms {
		should = append(should, map[string]any{"key": "text", "match": map[string]any{"text": term}})
	}
	filter := map[string]any{"should": should}
	if docs := documentFilter(documentIDs); docs != nil {
		filter["must"] = docs["must"]
	}

	limit := 0
	if k > 0 {
		limit = k * keywordOverfetch
	}
	points, err := c.scroll(ctx, filter, limit, false)
	if err != nil {
		return nil, err
	}

	type hit struct {
		res  domain.RetrievedResult
		hits int
	}
	ranked := make([]hit, 0, len(points))
	for _, p := range points {
		res := toResult(p.ID, p.Payload)
		if n := countTerms(res.Text, terms); n > 0 {
			ranked = append(ranked, hit{res: res, hits: n})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].hits != ranked[j].hits {
			return ranked[i].hits > ranked[j].hits
		}
		return ranked[i].res.ChunkID < ranked[j].res.ChunkID
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]domain.RetrievedResult, len(ranked))
	for i, h := range ranked {
		out[i] = h.res
	}
	return out, nil
}

// countTerms counts the terms text contains, ignoring case.
func countTerms(text string, terms []string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			n++
		}
	}
	return n
}

func (c *Client) GetChunksByDocument(ctx context.Context, documentID string, limit int) ([]domain.Chunk, error) {
	points, err := c.scroll(ctx, documentFilter([]string{documentID}), 0, true)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, 0, len(points))
	for _, p := range points {
		res := toResult(p.ID, p.Payload)
		out = append(out, domain.Chunk{
			ID:         res.ChunkID,
			DocumentID: res.DocumentID,
			Index:      res.ChunkIndex,
			Type:       domain.ChunkType(getStringPayload(p.Payload, "chunk_type")),
			Text:       res.Text,
			Metadata:   res.Metadata,
			Embedding:  p.Vector,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", c.collection)
	err := c.do(ctx, http.MethodPost, path, map[string]any{"filter": documentFilter([]string{documentID})}, nil, "delete")
	if hasStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// scroll pages through matching points. limit <= 0 reads them all.
func (c *Client) scroll(ctx context.Context, filter map[string]any, limit int, withVector bool) ([]scoredPoint, error) {
	path := fmt.Sprintf("/collections/%s/points/scroll", c.collection)
	var out []scoredPoint
	var offset any
	for {
		page := scrollPageSize
		if limit > 0 {
			page = min(page, limit-len(out))
		}
		reqBody := map[string]any{
			"filter":       filter,
			"limit":        page,
			"with_payload": true,
			"with_vector":  withVector,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []scoredPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := c.do(ctx, http.MethodPost, path, reqBody, &resp, "scroll"); err != nil {
			return nil, err
		}
		out = append(out, resp.Result.Points...)
		offset = resp.Result.NextPageOffset
		if offset == nil || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.do(ctx, http.MethodPut, path, reqBody, nil, "ensure collection")
	// 409 if the collection already exists (depends on version/config).
	if err != nil && !hasStatus(err, http.StatusConflict) {
		return err
	}

	indexPath := fmt.Sprintf("/collections/%s/index?wait=true", c.collection)
	indexes := []map[string]any{
		{"field_name": "doc_id", "field_schema": "keyword"},
		{"field_name": "text", "field_schema": map[string]any{"type": "text", "tokenizer": "prefix", "lowercase": true}},
	}
	for _, index := range indexes {
		if err := c.do(ctx, http.MethodPut, indexPath, index, nil, "create index"); err != nil {
			return err
		}
	}

	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			operation:  operation,
			statusCode: resp.StatusCode,
			status:     resp.Status,
			body:       strings.TrimSpace(string(body)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

type statusError struct {
	operation  string
	statusCode int
	status     string
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.operation, e.status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.operation, e.status, e.body)
}

func hasStatus(err error, code int) bool {
	var statusErr *statusError
	return errors.As(err, &statusErr) && statusErr.statusCode == code
}

func documentFilter(documentIDs []string) map[string]any {
	if len(documentIDs) == 0 {
		return nil
	}
	return map[string]any{
		"must": []map[string]any{
			{"key": "doc_id", "match": map[string]any{"any": documentIDs}},
		},
	}
}

func toResult(id string, payload map[string]any) domain.RetrievedResult {
	res := domain.RetrievedResult{
		ChunkID:    id,
		DocumentID: getStringPayload(payload, "doc_id"),
		Text:       getStringPayload(payload, "text"),
	}
	if idx, ok := payload["chunk_index"].(float64); ok {
		res.ChunkIndex = int(idx)
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		res.Metadata = meta
	}
	return res
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
