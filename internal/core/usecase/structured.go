package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime/types"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

// completeJSON sends a structured prompt and decodes the JSON object in the
// reply into out. Decode failures keep the raw reply.
func completeJSON(ctx context.Context, llm ports.Completer, operation string, req domain.CompletionRequest, out any) (string, error) {
	req.JSON = true
	raw, err := llm.Complete(ctx, req)
	if err != nil {
		return "", domain.WrapError(domain.ErrProvider, operation, err)
	}
	if strings.TrimSpace(raw) == "" {
		return raw, domain.NewExtractionError(operation, raw, errors.New("empty completion"))
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), out); err != nil {
		return raw, domain.NewExtractionError(operation, raw, err)
	}
	return raw, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func wholeAmount(field string, v *float64) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v >= math.MaxInt64 || *v < math.MinInt64 {
		return nil, fmt.Errorf("%s is not a finite amount", field)
	}
	n := int64(math.Round(*v))
	return &n, nil
}

func parseOptionalDate(field string, v *string) (*types.Date, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	t, err := time.Parse(types.DateFormat, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &types.Date{Time: t}, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
