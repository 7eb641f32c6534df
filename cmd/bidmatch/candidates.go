package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

func candidatesCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Manage candidate team profiles",
	}
	cmd.AddCommand(candidatesImportCmd(env), candidatesListCmd(env))
	return cmd
}

func candidatesImportCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert candidate teams from a YAML file",
		Long: `Reads either a top-level list of candidates or a document with a
"candidates" key. Each entry needs an id and a name:

  candidates:
    - id: team-a
      name: Team A
      skills: [go, postgres]
      experience_years: 6
      completed_projects: 14
      location: Berlin
      rating: 4.6
      monthly_rate: 12000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			candidates, err := parseCandidates(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			s, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.stop()

			n, err := importCandidates(cmd.Context(), s.app.Candidates, candidates, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d candidates\n", n)
			return nil
		},
	}
}

func candidatesListCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List candidate teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := env.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.stop()

			candidates, err := s.app.Candidates.ListCandidates(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range candidates {
				fmt.Fprintf(out, "%-20s %-30s %4.1fy  rating=%.1f  %s\n",
					c.ID, c.Name, c.ExperienceYears, c.Rating, strings.Join(c.Skills, ","))
			}
			return nil
		},
	}
}

type candidateFile struct {
	Candidates []domain.Candidate `yaml:"candidates"`
}

// parseCandidates accepts a bare list or a {candidates: [...]} document and
// rejects entries without id or name, or with duplicate ids.
func parseCandidates(r io.Reader) ([]domain.Candidate, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, errors.New("no candidates found")
	}

	var candidates []domain.Candidate
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if node.Content[0].Kind == yaml.SequenceNode {
		err = dec.Decode(&candidates)
	} else {
		var file candidateFile
		err = dec.Decode(&file)
		candidates = file.Candidates
	}
	if err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, errors.New("no candidates found")
	}

	seen := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		c.ID = strings.TrimSpace(c.ID)
		c.Name = strings.TrimSpace(c.Name)
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("candidate #%d: id and name are required", i+1)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("candidate #%d: duplicate id %q", i+1, c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Rating < 0 || c.Rating > 5 {
			return nil, fmt.Errorf("candidate %s: rating %.2f outside [0,5]", c.ID, c.Rating)
		}
	}
	return candidates, nil
}

func importCandidates(ctx context.Context, dir ports.CandidateDirectory, candidates []domain.Candidate, now time.Time) (int, error) {
	for i := range candidates {
		c := candidates[i]
		c.UpdatedAt = now
		if err := dir.UpsertCandidate(ctx, &c); err != nil {
			return i, fmt.Errorf("upsert candidate %s: %w", c.ID, err)
		}
	}
	return len(candidates), nil
}
