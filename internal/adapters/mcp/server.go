// Package mcpadapter exposes search, metadata, matching, analysis and draft
// generation as MCP tools.
package mcpadapter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kirillkom/bidmatch/internal/core/domain"
	"github.com/kirillkom/bidmatch/internal/core/ports"
)

const (
	serverName    = "bidmatch"
	serverVersion = "1.0.0"
)

type Services struct {
	Search   ports.SearchService
	Metadata ports.MetadataService
	Analysis ports.AnalysisService
	Matching ports.MatchingService
	Drafts   ports.DraftService
}

type Server struct {
	svc    Services
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer registers one tool per configured service.
func NewServer(svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc: svc,
		mcp: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions("Search business announcements, extract their metadata, run deep analysis, match candidate teams and draft estimates."),
		),
		logger: logger,
	}

	if svc.Search != nil {
		s.mcp.AddTool(mcp.NewTool("search_announcements",
			mcp.WithDescription("Search indexed announcement chunks."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithString("query", mcp.Required(), mcp.Description("Free text query.")),
			mcp.WithString("mode", mcp.Enum("vector", "mmr", "hybrid", "keyword"), mcp.DefaultString("hybrid")),
			mcp.WithNumber("top_k", mcp.Min(1), mcp.Max(100), mcp.Description("Maximum number of results.")),
			mcp.WithArray("document_ids", mcp.WithStringItems(), mcp.Description("Restrict the search to these documents.")),
		), s.searchAnnouncements)
	}
	if svc.Metadata != nil {
		s.mcp.AddTool(mcp.NewTool("extract_metadata",
			mcp.WithDescription("Extract title, budget, duration, tech stack and deadline from an indexed announcement."),
			mcp.WithString("document_id", mcp.Required()),
		), s.extractMetadata)
	}
	if svc.Analysis != nil {
		s.mcp.AddTool(mcp.NewTool("analyze_announcement",
			mcp.WithDescription("Run deep analysis of risks, issues and requirements and wait for the result."),
			mcp.WithString("document_id", mcp.Required()),
		), s.analyzeAnnouncement)
	}
	if svc.Matching != nil {
		s.mcp.AddTool(mcp.NewTool("match_teams",
			mcp.WithDescription("Rank candidate teams for an announcement."),
			mcp.WithString("document_id", mcp.Required()),
			mcp.WithNumber("top_n", mcp.Min(1), mcp.Max(100)),
			mcp.WithNumber("min_score", mcp.Min(0), mcp.Max(1)),
		), s.matchTeams)
	}
	if svc.Drafts != nil {
		s.mcp.AddTool(mcp.NewTool("generate_estimate_draft",
			mcp.WithDescription("Draft an estimate with milestones for one candidate team."),
			mcp.WithString("document_id", mcp.Required()),
			mcp.WithString("candidate_id", mcp.Required()),
		), s.generateDraft)
	}
	return s
}

// ServeStdio serves JSON-RPC over in/out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) searchAnnouncements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	topK := req.GetInt("top_k", 0)
	docIDs := req.GetStringSlice("document_ids", nil)

	var results []domain.RetrievedResult
	switch mode := req.GetString("mode", "hybrid"); mode {
	case "vector":
		results, err = s.svc.Search.SearchText(ctx, query, domain.SearchOptions{TopK: topK, DocumentIDs: docIDs})
	case "mmr":
		results, err = s.svc.Search.SearchTextMMR(ctx, query, domain.MMROptions{TopK: topK, DocumentIDs: docIDs})
	case "keyword":
		results, err = s.svc.Search.KeywordSearch(ctx, query, domain.SearchOptions{TopK: topK, DocumentIDs: docIDs})
	case "hybrid":
		results, err = s.svc.Search.HybridSearch(ctx, query, domain.HybridOptions{TopK: topK, DocumentIDs: docIDs})
	default:
		return mcp.NewToolResultErrorf("unknown search mode %q", mode), nil
	}
	if err != nil {
		return s.toolError("search_announcements", err), nil
	}
	if results == nil {
		results = []domain.RetrievedResult{}
	}
	return mcp.NewToolResultStructuredOnly(map[string]any{"results": results}), nil
}

func (s *Server) extractMetadata(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := s.svc.Metadata.ExtractMetadata(ctx, documentID)
	if err != nil {
		return s.toolError("extract_metadata", err), nil
	}
	return mcp.NewToolResultStructuredOnly(meta), nil
}

func (s *Server) analyzeAnnouncement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.Analysis.StartAnalysis(ctx, documentID)
	if err != nil {
		return s.toolError("analyze_announcement", err), nil
	}
	result, err := s.svc.Analysis.WaitForAnalysis(ctx, job.ID, nil)
	if err != nil {
		return s.toolError("analyze_announcement", err), nil
	}
	return mcp.NewToolResultStructuredOnly(result), nil
}

func (s *Server) matchTeams(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := domain.MatchOptions{TopN: req.GetInt("top_n", 0)}
	if _, ok := req.GetArguments()["min_score"]; ok {
		minScore := req.GetFloat("min_score", 0)
		opts.MinScore = &minScore
	}
	matches, err := s.svc.Matching.MatchTeams(ctx, documentID, opts)
	if err != nil {
		return s.toolError("match_teams", err), nil
	}
	if matches == nil {
		matches = []domain.MatchedCandidate{}
	}
	return mcp.NewToolResultStructuredOnly(map[string]any{"document_id": documentID, "matches": matches}), nil
}

func (s *Server) generateDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	candidateID, err := req.RequireString("candidate_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.svc.Drafts.GenerateDraft(ctx, documentID, candidateID)
	if err != nil {
		return s.toolError("generate_estimate_draft", err), nil
	}
	return mcp.NewToolResultStructuredOnly(draft), nil
}

// toolError reports failures inside the tool result so the client model can
// read them. Protocol errors are reserved for transport problems.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp_tool_failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
}
