package main

import (
	"os"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/bidmatch/internal/adapters/mcp"
)

func mcpCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout. Logs go to
stderr. Analysis jobs run inside this process.

Client configuration:
  {
    "mcpServers": {
      "bidmatch": {"command": "/path/to/bidmatch", "args": ["mcp"]}
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := env.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.stop()

			srv := mcpadapter.NewServer(mcpadapter.Services{
				Search:   s.app.Search,
				Metadata: s.app.Metadata,
				Analysis: s.app.Analysis,
				Matching: s.app.Matching,
				Drafts:   s.app.Drafts,
			}, s.logger.Named("mcp"))
			return srv.ServeStdio(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
