// Package mcp exposes retrieval to agents as MCP tools over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/retrieval"
	"tailorcv/backend/internal/vector"
)

const (
	serverName    = "tailorcv-mcp"
	serverVersion = "1.0.0"
)

type Retriever interface {
	SearchChunks(ctx context.Context, query string, opts *retrieval.ChunkOptions) ([]retrieval.ChunkResult, error)
	RankDocuments(ctx context.Context, query string, opts *retrieval.RankOptions) ([]retrieval.DocumentResult, error)
}

type DocumentReader interface {
	Latest(ctx context.Context) (*document.Document, error)
}

type Handler struct {
	retriever Retriever
	docs      DocumentReader
	server    *mcpserver.MCPServer
}

func NewHandler(r Retriever, docs DocumentReader) *Handler {
	h := &Handler{retriever: r, docs: docs}
	h.server = mcpserver.NewMCPServer(serverName, serverVersion, mcpserver.WithToolCapabilities(false))
	h.registerTools()
	return h
}

func (h *Handler) Server() *mcpserver.MCPServer { return h.server }

// HTTPHandler serves the MCP streamable HTTP transport. The request's
// correlation id is carried into tool calls.
func (h *Handler) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(h.server,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id := middleware.GetCorrelationID(r.Context()); id != "" {
				return middleware.WithCorrelationID(ctx, id)
			}
			return ctx
		}),
	)
}

func (h *Handler) registerTools() {
	h.server.AddTool(mcp.Tool{
		Name: "search_chunks",
		Description: `Evidence tool. Finds CV chunks (single experience bullets, project entries, the summary, the skills list) that are semantically close to a job description. Only chunks scoring at least min_score are returned, best first.

ARGUMENT GUIDE:

[min_score: Similarity Threshold]
- Default: 0.75
- Lower it (0.5-0.6) for loosely related evidence, raise it (0.85+) for near-verbatim matches.

[max_candidates: Candidate Window]
- Default: 50. Nearest chunks considered before the threshold is applied.

[section_type / doc_id: Filters]
- section_type: restrict to one section, e.g. "experience", "skills".
- doc_id: restrict to one stored CV.

USAGE EXAMPLE:
search_chunks(query="Senior Go engineer, Kubernetes, Postgres", section_type="experience")`,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Job description text",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score (default 0.75)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"max_candidates": map[string]interface{}{
					"type":        "integer",
					"description": "Nearest chunks considered (default 50)",
					"minimum":     1,
				},
				"section_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this section",
				},
				"doc_id": map[string]interface{}{
					"type":        "string",
					"description": "Only return chunks of this CV",
				},
			},
			Required: []string{"query"},
		},
	}, h.SearchChunks)

	h.server.AddTool(mcp.Tool{
		Name: "rank_documents",
		Description: `Ranking tool. Scores every stored CV against a job description by summing the similarity of its chunks among the nearest raw_candidates, and returns the top_k CVs.

USAGE EXAMPLE:
rank_documents(query="Data engineer with Spark and Airflow", top_k=3)`,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Job description text",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of CVs to return (default 3)",
					"minimum":     1,
				},
				"raw_candidates": map[string]interface{}{
					"type":        "integer",
					"description": "Nearest chunks aggregated into document scores (default 50)",
					"minimum":     1,
				},
			},
			Required: []string{"query"},
		},
	}, h.RankDocuments)

	h.server.AddTool(mcp.Tool{
		Name:        "get_latest_cv",
		Description: "Returns the structured sections of the most recently stored CV.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.GetLatestCV)
}

func (h *Handler) SearchChunks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}

	opts := &retrieval.ChunkOptions{}
	args := req.GetArguments()
	if _, ok := args["min_score"]; ok {
		v := float32(req.GetFloat("min_score", 0))
		opts.MinScore = &v
	}
	if _, ok := args["max_candidates"]; ok {
		v := req.GetInt("max_candidates", 0)
		opts.MaxCandidates = &v
	}
	filter := map[string]string{}
	if v := req.GetString("section_type", ""); v != "" {
		filter[vector.MetaSection] = v
	}
	if v := req.GetString("doc_id", ""); v != "" {
		filter[vector.MetaDocID] = v
	}
	if len(filter) > 0 {
		opts.Filter = filter
	}

	results, err := h.retriever.SearchChunks(ctx, query, opts)
	if err != nil {
		return toolError(ctx, "search_chunks", err), nil
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "search_chunks", "result_count", len(results))

	if len(results) == 0 {
		return mcp.NewToolResultText("No chunks cleared the score threshold."), nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, r.Score)
		fmt.Fprintf(&b, "CV: %s\nSection: %s\nChunk: %s\n", r.DocID, r.SectionType, r.ChunkID)
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", r.Text)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handler) RankDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}

	opts := &retrieval.RankOptions{}
	args := req.GetArguments()
	if _, ok := args["top_k"]; ok {
		v := req.GetInt("top_k", 0)
		opts.TopK = &v
	}
	if _, ok := args["raw_candidates"]; ok {
		v := req.GetInt("raw_candidates", 0)
		opts.RawCandidates = &v
	}

	results, err := h.retriever.RankDocuments(ctx, query, opts)
	if err != nil {
		return toolError(ctx, "rank_documents", err), nil
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "rank_documents", "result_count", len(results))

	if len(results) == 0 {
		return mcp.NewToolResultText("No CVs matched."), nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (Score: %.2f, matched chunks: %d)\n", i+1, r.DocID, r.Score, r.MatchedChunks)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handler) GetLatestCV(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := h.docs.Latest(ctx)
	if errors.Is(err, document.ErrNotFound) {
		return mcp.NewToolResultText("No CV has been stored yet."), nil
	}
	if err != nil {
		return toolError(ctx, "get_latest_cv", err), nil
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"doc_id":   doc.ID,
		"sections": doc.Sections,
	}, "", "  ")
	if err != nil {
		return toolError(ctx, "get_latest_cv", err), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	if errors.Is(err, retrieval.ErrInvalidArgument) {
		slog.WarnContext(ctx, "invalid tool arguments", "tool", tool, "error", err)
		return mcp.NewToolResultError(err.Error())
	}
	slog.ErrorContext(ctx, "tool execution failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
}
