package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/lockfile"
	"github.com/codelens/codelens/internal/mcpserver"
	"github.com/codelens/codelens/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Run the MCP server over stdio",
		Long: `Run CodeLens as an MCP server, exposing search, index, ann_config,
clear_cache, and find_similar tools to an AI coding assistant over
stdio JSON-RPC.`,
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

			return runServeWithCache(ctx, root, cfg, c, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")

	return cmd
}

// runServeWithCache acquires the workspace lock, builds the MCP server
// over c, and blocks serving stdio JSON-RPC until ctx is cancelled.
func runServeWithCache(ctx context.Context, root string, cfg *config.Config, c *cache.Cache, offline bool) error {
	dir, err := dataDir(root)
	if err != nil {
		return err
	}

	lock := lockfile.New(dir)
	if err := lock.TryAcquire(); err != nil {
		return fmt.Errorf("acquire workspace lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	embedder, err := openEmbedder(ctx, cfg, offline)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	if removed, err := reconcileOnStartup(ctx, root, cfg, c, embedder); err != nil {
		slog.Warn("startup reconciliation failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		slog.Info("startup reconciliation removed stale files", slog.Int("files", removed))
	}

	runIndex := func(ctx context.Context) (int, int, int, bool, int64, []string, error) {
		result, err := runIndexOnce(ctx, root, cfg, c, offline)
		return result.FilesProcessed, result.ChunksAdded, result.ChunksRemoved, result.StoppedEarly, result.DurationMs, result.Errors, err
	}

	w, err := startWorkspaceWatcher(ctx, root, cfg, runIndex)
	if err != nil {
		slog.Warn("workspace watcher disabled", slog.String("error", err.Error()))
	} else {
		defer func() { _ = w.Stop() }()
	}

	server := mcpserver.NewServer(c, embedder, cfg, runIndex)
	return server.Serve(ctx)
}

// startWorkspaceWatcher starts a hybrid fsnotify/polling watcher over root
// and, on every debounced batch of file-system events, drives an incremental
// re-index through reindex. The watcher's own debouncer coalesces rapid
// IDE/git-churn events; this loop then serializes re-index runs one at a
// time by blocking on each reindex call before consuming the next batch.
func startWorkspaceWatcher(
	ctx context.Context,
	root string,
	cfg *config.Config,
	reindex func(context.Context) (int, int, int, bool, int64, []string, error),
) (*watcher.HybridWatcher, error) {
	debounce, err := time.ParseDuration(cfg.Watcher.DebounceInterval)
	if err != nil || debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: debounce,
		IgnorePatterns: cfg.Paths.Exclude,
	}.WithDefaults())
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	go func() {
		if err := w.Start(ctx, root); err != nil && ctx.Err() == nil {
			slog.Warn("workspace watcher exited", slog.String("error", err.Error()))
		}
	}()

	go watchAndReindex(ctx, w, reindex)

	return w, nil
}

// watchAndReindex drains w's debounced event and error channels until ctx is
// cancelled or the watcher stops, re-indexing the workspace on every batch.
func watchAndReindex(
	ctx context.Context,
	w *watcher.HybridWatcher,
	reindex func(context.Context) (int, int, int, bool, int64, []string, error),
) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			slog.Info("workspace change detected, re-indexing", slog.Int("events", len(events)))
			if _, added, removed, _, ms, errs, err := reindex(ctx); err != nil {
				slog.Warn("watch-triggered re-index failed", slog.String("error", err.Error()))
			} else {
				slog.Info("watch-triggered re-index complete",
					slog.Int("chunks_added", added), slog.Int("chunks_removed", removed),
					slog.Int64("duration_ms", ms), slog.Int("errors", len(errs)))
			}
		case werr, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", slog.String("error", werr.Error()))
		}
	}
}
