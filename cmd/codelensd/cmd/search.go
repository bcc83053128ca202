package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/callgraph"
	"github.com/codelens/codelens/internal/config"
	isearch "github.com/codelens/codelens/internal/search"
)

type searchOptions struct {
	limit   int
	format  string // "text", "json"
	offline bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed workspace",
		Long: `Search the indexed workspace using hybrid search: semantic similarity
fused with lexical token overlap, boosted by recency and call-graph
proximity.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = config default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (skip model download)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	root, err := resolveRoot(".")
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	c, _, err := openCache(root, cfg)
	if err != nil {
		return err
	}

	embedder, err := openEmbedder(ctx, cfg, opts.offline)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	searcher := isearch.New(c, embedder)
	graph := callgraph.Build(toCallGraphEntries(c.CallGraph()))

	results, err := searcher.Search(ctx, query, graph, searchOptionsFromConfig(cfg, opts.limit))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	switch opts.format {
	case "json":
		return formatSearchJSON(cmd, results)
	default:
		return formatSearchText(cmd, query, results)
	}
}

func searchOptionsFromConfig(cfg *config.Config, limitOverride int) isearch.Options {
	limit := cfg.Search.MaxResults
	if limitOverride > 0 {
		limit = limitOverride
	}
	return isearch.Options{
		MaxResults:        limit,
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

func formatSearchText(cmd *cobra.Command, query string, results []isearch.Result) error {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for %q\n", query)
		return nil
	}

	fmt.Fprintf(out, "Found %d result(s) for %q:\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s:%d (score: %.3f)\n", i+1, r.File, r.StartLine, r.Score)
		for _, line := range getSnippet(r.Content, 3) {
			fmt.Fprintf(out, "   %s\n", line)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func formatSearchJSON(cmd *cobra.Command, results []isearch.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// getSnippet returns the first n non-trailing-blank lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
