package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/index"
	"github.com/codelens/codelens/internal/scanner"
)

func newIndexCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a workspace for searching",
		Long: `Index a workspace to enable hybrid search over its contents.

This discovers files, chunks them into line windows, generates
embeddings, and writes them into the on-disk chunk store, reusing any
unchanged content from a previous run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			root, err := resolveRoot(path)
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

			if isInteractive(cmd.ErrOrStderr()) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Indexing %s...\n", root)
			}

			result, err := runIndexOnce(ctx, root, cfg, c, offline)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexed %d file(s), +%d/-%d chunk(s) in %dms\n",
				result.FilesProcessed, result.ChunksAdded, result.ChunksRemoved, result.DurationMs)
			if result.StoppedEarly {
				fmt.Fprintln(out, "(stopped early: interrupted)")
			}
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")

	return cmd
}

// runIndexOnce builds a scanner and embedder, drives one Indexer.Run pass
// over root using cfg, and persists the result into c.
func runIndexOnce(ctx context.Context, root string, cfg *config.Config, c *cache.Cache, offline bool) (index.Result, error) {
	embedder, err := openEmbedder(ctx, cfg, offline)
	if err != nil {
		return index.Result{}, fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	ix, err := newIndexer(root, cfg, c, embedder)
	if err != nil {
		return index.Result{}, err
	}
	defer ix.Close()

	return ix.Run(ctx)
}

// reconcileOnStartup runs a deletion-only reconciliation pass over root
// using an already-open embedder (it's never called, since reconciliation
// only removes stale store entries), matching the lightweight catch-up a
// long-running server does before it starts serving.
func reconcileOnStartup(ctx context.Context, root string, cfg *config.Config, c *cache.Cache, embedder embed.Embedder) (int, error) {
	ix, err := newIndexer(root, cfg, c, embedder)
	if err != nil {
		return 0, err
	}
	defer ix.Close()

	return ix.ReconcileOnStartup(ctx)
}

// newIndexer builds the scanner and Indexer.Config shared by runIndexOnce
// and reconcileOnStartup.
func newIndexer(root string, cfg *config.Config, c *cache.Cache, embedder embed.Embedder) (*index.Indexer, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	dir, err := dataDir(root)
	if err != nil {
		return nil, err
	}

	cooldown := time.Duration(cfg.Indexer.WorkerFailureCooldownMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return index.New(c, embedder, sc, index.Config{
		RootDir:         root,
		DataDir:         dir,
		ChunkSize:       cfg.ChunkStore.ChunkSize,
		ChunkOverlap:    cfg.ChunkStore.ChunkOverlap,
		MaxFiles:        cfg.Indexer.MaxFiles,
		ExcludePatterns: cfg.Paths.Exclude,
		BatchSize:       cfg.Indexer.BatchSize,
		CheckpointEvery: cfg.Indexer.CheckpointInterval,
		CooldownAfter:   5,
		Cooldown:        cooldown,
	}, slog.Default()), nil
}
