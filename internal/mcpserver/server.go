// Package mcpserver bridges AI coding assistants to the hybrid search
// engine over the Model Context Protocol, exposing the transport-agnostic
// operations of spec.md §6 as MCP tools (search, index, ann_config,
// clear_cache, find_similar).
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codelens/codelens/internal/ann"
	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/callgraph"
	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/embed"
	isearch "github.com/codelens/codelens/internal/search"
	"github.com/codelens/codelens/pkg/version"
)

// IndexRunner runs one indexing pass; bound to runIndexOnce by the CLI
// layer so this package stays independent of cobra and the scanner.
type IndexRunner func(ctx context.Context) (filesProcessed, chunksAdded, chunksRemoved int, stoppedEarly bool, durationMs int64, errs []string, err error)

// Server is the MCP server for CodeLens. It bridges AI clients (Claude
// Code, Cursor) with the hybrid search engine over a loaded Cache.
type Server struct {
	mcp      *mcp.Server
	cache    *cache.Cache
	embedder embed.Embedder
	cfg      *config.Config
	searcher *isearch.Searcher
	index    IndexRunner
	logger   *slog.Logger
}

// NewServer constructs the MCP server over an already-loaded cache and
// ready embedder. index is invoked by the "index" tool.
func NewServer(c *cache.Cache, embedder embed.Embedder, cfg *config.Config, index IndexRunner) *Server {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := &Server{
		cache:    c,
		embedder: embedder,
		cfg:      cfg,
		searcher: isearch.New(c, embedder),
		index:    index,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "CodeLens",
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid semantic+lexical search over the indexed workspace. Use for most code/doc lookup tasks.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_similar",
		Description: "Find chunks semantically similar to a given file range, for \"what else looks like this\" queries.",
	}, s.handleFindSimilar)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index",
		Description: "Re-index the workspace, picking up new, modified, and deleted files since the last run.",
	}, s.handleIndex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ann_config",
		Description: "Inspect or tune the ANN index: get build/query stats, adjust ef_search at runtime, or force a rebuild.",
	}, s.handleAnnConfig)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_cache",
		Description: "Clear the chunk store and all derived indices, requiring a full re-index.",
	}, s.handleClearCache)

	s.logger.Debug("registered MCP tools", slog.Int("count", 5))
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query      string `json:"query" jsonschema:"the search query to execute"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, default 20"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []isearch.Result `json:"results" jsonschema:"ranked list of search results"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	opts := searchOptionsFromConfig(s.cfg)
	if input.MaxResults > 0 {
		opts.MaxResults = input.MaxResults
	}

	graph := callgraph.Build(toCallGraphEntries(s.cache.CallGraph()))
	results, err := s.searcher.Search(ctx, input.Query, graph, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: results}, nil
}

// FindSimilarInput is the input schema for the find_similar tool.
type FindSimilarInput struct {
	File       string `json:"file" jsonschema:"workspace-relative file path"`
	StartLine  uint32 `json:"start_line" jsonschema:"first line of the anchor range, 1-based"`
	EndLine    uint32 `json:"end_line" jsonschema:"last line of the anchor range, 1-based"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results, default 20"`
}

// FindSimilarOutput is the output schema for the find_similar tool.
type FindSimilarOutput struct {
	Results []isearch.Result `json:"results" jsonschema:"chunks ranked by similarity to the anchor range"`
}

func (s *Server) handleFindSimilar(ctx context.Context, _ *mcp.CallToolRequest, input FindSimilarInput) (*mcp.CallToolResult, FindSimilarOutput, error) {
	if input.File == "" {
		return nil, FindSimilarOutput{}, fmt.Errorf("file is required")
	}
	results, err := s.searcher.FindSimilar(ctx, input.File, input.StartLine, input.EndLine, input.MaxResults)
	if err != nil {
		return nil, FindSimilarOutput{}, err
	}
	return nil, FindSimilarOutput{Results: results}, nil
}

// IndexInput is the input schema for the index tool.
type IndexInput struct {
	Force bool `json:"force,omitempty" jsonschema:"clear the index before running, forcing a full re-embed"`
}

// IndexOutput is the output schema for the index tool.
type IndexOutput struct {
	FilesProcessed int      `json:"files_processed"`
	ChunksAdded    int      `json:"chunks_added"`
	ChunksRemoved  int      `json:"chunks_removed"`
	StoppedEarly   bool     `json:"stopped_early"`
	DurationMs     int64    `json:"duration_ms"`
	Errors         []string `json:"errors,omitempty"`
}

func (s *Server) handleIndex(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (*mcp.CallToolResult, IndexOutput, error) {
	if s.index == nil {
		return nil, IndexOutput{}, fmt.Errorf("indexing is not available on this server")
	}
	if input.Force {
		if err := s.cache.Clear(); err != nil {
			return nil, IndexOutput{}, fmt.Errorf("clear before forced reindex: %w", err)
		}
	}
	filesProcessed, chunksAdded, chunksRemoved, stoppedEarly, durationMs, errs, err := s.index(ctx)
	if err != nil {
		return nil, IndexOutput{}, err
	}
	return nil, IndexOutput{
		FilesProcessed: filesProcessed,
		ChunksAdded:    chunksAdded,
		ChunksRemoved:  chunksRemoved,
		StoppedEarly:   stoppedEarly,
		DurationMs:     durationMs,
		Errors:         errs,
	}, nil
}

// AnnConfigInput is the input schema for the ann_config tool.
type AnnConfigInput struct {
	Action   string `json:"action" jsonschema:"one of: stats, set_ef_search, rebuild"`
	EfSearch int    `json:"ef_search,omitempty" jsonschema:"new ef_search value, required when action is set_ef_search"`
}

// AnnConfigOutput is the output schema for the ann_config tool.
type AnnConfigOutput struct {
	State          string `json:"state"`
	Count          int    `json:"count"`
	Dim            int    `json:"dim"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	EfSearch       int    `json:"ef_search"`
	MaxElements    int    `json:"max_elements"`
}

func (s *Server) handleAnnConfig(ctx context.Context, _ *mcp.CallToolRequest, input AnnConfigInput) (*mcp.CallToolResult, AnnConfigOutput, error) {
	switch input.Action {
	case "stats":
		return nil, s.annStatsOutput(), nil
	case "set_ef_search":
		if input.EfSearch <= 0 {
			return nil, AnnConfigOutput{}, fmt.Errorf("ef_search must be positive")
		}
		s.cache.SetAnnEfSearch(input.EfSearch)
		return nil, s.annStatsOutput(), nil
	case "rebuild":
		s.cache.InvalidateANN()
		if _, err := s.cache.EnsureANN(ctx); err != nil && err != ann.ErrSkipped {
			return nil, AnnConfigOutput{}, fmt.Errorf("rebuild ann index: %w", err)
		}
		return nil, s.annStatsOutput(), nil
	default:
		return nil, AnnConfigOutput{}, fmt.Errorf("unknown action: %s (use: stats, set_ef_search, rebuild)", input.Action)
	}
}

func (s *Server) annStatsOutput() AnnConfigOutput {
	state, cfg, meta := s.cache.AnnStats()
	return AnnConfigOutput{
		State:          annStateName(state),
		Count:          meta.Count,
		Dim:            cfg.Dim,
		M:              cfg.M,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		MaxElements:    meta.MaxElements,
	}
}

func annStateName(state ann.State) string {
	switch state {
	case ann.StateAbsent:
		return "absent"
	case ann.StateLoading:
		return "loading"
	case ann.StateReadyClean:
		return "ready_clean"
	case ann.StateReadyDirty:
		return "ready_dirty"
	case ann.StateDirtyNeedsRebuild:
		return "dirty_needs_rebuild"
	default:
		return "unknown"
	}
}

// ClearCacheInput is the (empty) input schema for the clear_cache tool.
type ClearCacheInput struct{}

// ClearCacheOutput is the output schema for the clear_cache tool.
type ClearCacheOutput struct {
	OK bool `json:"ok"`
}

func (s *Server) handleClearCache(_ context.Context, _ *mcp.CallToolRequest, _ ClearCacheInput) (*mcp.CallToolResult, ClearCacheOutput, error) {
	if err := s.cache.Clear(); err != nil {
		return nil, ClearCacheOutput{}, err
	}
	return nil, ClearCacheOutput{OK: true}, nil
}

func searchOptionsFromConfig(cfg *config.Config) isearch.Options {
	return isearch.Options{
		MaxResults:        cfg.Search.MaxResults,
		CandidateMultiple: cfg.Search.CandidateMultiple,
		SemanticWeight:    cfg.Search.SemanticWeight,
		LexicalWeight:     cfg.Search.LexicalWeight,
		ExactMatchBoost:   cfg.Search.ExactMatchBoost,
		RecencyBoost:      cfg.Search.RecencyBoost,
		RecencyDecayDays:  cfg.Search.RecencyDecayDays,
		CallGraphBoost:    cfg.Search.CallGraphBoost,
		CallGraphMaxHops:  cfg.Search.CallGraphMaxHops,
	}
}

func toCallGraphEntries(m map[string]cache.CallGraphEntry) map[string]callgraph.Entry {
	out := make(map[string]callgraph.Entry, len(m))
	for file, e := range m {
		out[file] = callgraph.Entry{Definitions: e.Definitions, Calls: e.Calls}
	}
	return out
}
