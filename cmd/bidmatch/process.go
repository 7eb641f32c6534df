package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bidmatch/internal/core/domain"
)

func processCmd(env *cliEnv) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run the full announcement pipeline for one file",
		Long: `Uploads and indexes the file, extracts metadata, runs deep analysis,
matches candidate teams and drafts estimates for the best matches.
Progress is printed to stderr as each phase completes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			s, err := env.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.stop()

			upload := domain.Upload{
				Filename: filepath.Base(args[0]),
				MimeType: mime.TypeByExtension(filepath.Ext(args[0])),
				Body:     f,
			}
			result, err := s.app.Workflow.ProcessAnnouncement(cmd.Context(), upload, func(u domain.ProgressUpdate) {
				fmt.Fprintln(cmd.ErrOrStderr(), formatProgress(u))
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), result)
			}
			printWorkflowSummary(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the workflow result as JSON")
	return cmd
}

func formatProgress(u domain.ProgressUpdate) string {
	return fmt.Sprintf("[%3d%%] %-9s %s", u.Progress, u.Phase, u.Message)
}

func printWorkflowSummary(w io.Writer, r *domain.WorkflowResult) {
	if r.Document != nil {
		fmt.Fprintf(w, "document  %s (%s, %d chunks)\n", r.Document.ID, r.Document.Filename, r.Document.ChunkCount)
	}
	if r.Metadata != nil && r.Metadata.Title != "" {
		fmt.Fprintf(w, "title     %s\n", r.Metadata.Title)
	}
	if r.Analysis != nil {
		fmt.Fprintf(w, "risk      %s (%.2f), %d requirements\n", r.Analysis.RiskLevel, r.Analysis.RiskScore, len(r.Analysis.Requirements))
	}
	fmt.Fprintf(w, "matches   %d\n", len(r.Matches))
	for i, m := range r.Matches {
		fmt.Fprintf(w, "  %d. %-30s %.3f\n", i+1, m.CandidateName, m.Score)
	}
	fmt.Fprintf(w, "drafts    %d\n", len(r.Drafts))
	for _, d := range r.Drafts {
		fmt.Fprintf(w, "  %-30s %d (%d milestones)\n", d.CandidateID, d.TotalAmount, len(d.Milestones))
	}
	for _, f := range r.DraftFailures {
		fmt.Fprintf(w, "  failed %s: %s\n", f.CandidateID, f.Error)
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
