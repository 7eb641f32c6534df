package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

type searchFlags struct {
	mode        string
	topK        int
	documentIDs []string
	asJSON      bool
}

func searchCmd(env *cliEnv) *cobra.Command {
	var flags searchFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed announcement chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.stop()

			results, err := runSearch(cmd.Context(), s.app.Search, args[0], flags)
			if err != nil {
				return err
			}
			if flags.asJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), results)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.mode, "mode", "m", "hybrid", "search mode: vector, mmr, keyword or hybrid")
	cmd.Flags().IntVarP(&flags.topK, "top-k", "n", 0, "maximum number of results (0 = configured default)")
	cmd.Flags().StringSliceVarP(&flags.documentIDs, "document", "d", nil, "restrict to these document ids")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "output results as JSON")
	return cmd
}

func runSearch(ctx context.Context, svc ports.SearchService, query string, f searchFlags) ([]domain.RetrievedResult, error) {
	switch strings.ToLower(f.mode) {
	case "vector":
		return svc.SearchText(ctx, query, domain.SearchOptions{TopK: f.topK, DocumentIDs: f.documentIDs})
	case "mmr":
		return svc.SearchTextMMR(ctx, query, domain.MMROptions{TopK: f.topK, DocumentIDs: f.documentIDs})
	case "keyword":
		return svc.KeywordSearch(ctx, query, domain.SearchOptions{TopK: f.topK, DocumentIDs: f.documentIDs})
	case "hybrid", "":
		return svc.HybridSearch(ctx, query, domain.HybridOptions{TopK: f.topK, DocumentIDs: f.documentIDs})
	default:
		return nil, fmt.Errorf("unknown search mode %q", f.mode)
	}
}

func printResults(w io.Writer, results []domain.RetrievedResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "[%d] %s#%d  score=%.3f\n", i+1, r.DocumentID, r.ChunkIndex, r.Score)
		fmt.Fprintf(w, "    %s\n", snippet(r.Text, 160))
	}
}

// snippet flattens whitespace and cuts text to at most n runes.
func snippet(text string, n int) string {
	flat := []rune(strings.Join(strings.Fields(text), " "))
	if len(flat) <= n {
		return string(flat)
	}
	return string(flat[:n]) + "..."
}
