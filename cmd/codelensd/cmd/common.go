package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/codelens/codelens/internal/ann"
	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/chunkstore"
	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/embed"
)

// isInteractive reports whether w is a terminal, so long-running commands
// can skip progress chatter when piped or run in CI.
func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// resolveRoot finds the workspace root, falling back to the current
// directory when no project markers are found.
func resolveRoot(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	root, err := config.FindProjectRoot(abs)
	if err != nil {
		return abs, nil
	}
	return root, nil
}

// loadConfig loads layered configuration for root, falling back to
// defaults merged with the current directory if no project config exists.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// dataDir returns <root>/.codelens, creating it if necessary.
func dataDir(root string) (string, error) {
	dir := filepath.Join(root, ".codelens")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// openCache constructs and loads a Cache for root per cfg. The caller is
// responsible for calling cache.Save/cache.Clear as appropriate; no
// explicit Close exists since the cache's state lives entirely in the
// chunk-store artifacts it already persists.
func openCache(root string, cfg *config.Config) (*cache.Cache, bool, error) {
	dir, err := dataDir(root)
	if err != nil {
		return nil, false, err
	}

	saveDebounce, err := time.ParseDuration(cfg.Cache.SaveDebounce)
	if err != nil {
		saveDebounce = 2 * time.Second
	}
	readerWait, err := time.ParseDuration(cfg.Cache.ReaderWaitTimeout)
	if err != nil {
		readerWait = 5 * time.Second
	}

	c := cache.New(cache.Config{
		Dir:               dir,
		Workspace:         root,
		EmbeddingModel:    cfg.Embeddings.Model,
		Dim:               cfg.Embeddings.Dimensions,
		Mode:              chunkstore.ModeMemory,
		SaveDebounce:      saveDebounce,
		ReaderWaitTimeout: readerWait,
		Ann: ann.Config{
			M:              cfg.Ann.M,
			EfConstruction: cfg.Ann.EfConstruction,
			EfSearch:       cfg.Ann.EfSearch,
			MinChunks:      cfg.Ann.MinPointsForBuild,
			Dim:            cfg.Embeddings.Dimensions,
		},
	}, nil)

	reindexRequired, err := c.Load()
	if err != nil {
		return nil, false, fmt.Errorf("load cache: %w", err)
	}
	return c, reindexRequired, nil
}

// openEmbedder constructs the embedder named by cfg.Embeddings, honoring
// --offline by forcing the static fallback embedder.
func openEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	if offline {
		provider = embed.ProviderStatic
	}
	return embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
}
