package usecase

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

const maxKeywordTerms = 16

// keywordTerms lowercases the query and keeps unique letter/digit runs of
// at least two characters, in query order.
func keywordTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if len(out) == maxKeywordTerms {
			break
		}
	}
	return out
}

// keywordCoverage is the fraction of terms found as substrings of text.
func keywordCoverage(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func scoreKeywordMatches(terms []string, rows []domain.RetrievedResult) []domain.RetrievedResult {
	out := make([]domain.RetrievedResult, 0, len(rows))
	for _, row := range rows {
		score := keywordCoverage(terms, row.Text)
		if score <= 0 {
			continue
		}
		row.Score = score
		row.Relevance = score
		out = append(out, row)
	}
	return out
}
