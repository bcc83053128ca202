// Package index implements the incremental indexing pipeline: discovery,
// pre-filtering by content hash, line-windowed chunking, batched embedding
// dispatch, and debounced checkpointing (spec.md §4.4).
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codelens/codelens/internal/cache"
	"github.com/codelens/codelens/internal/callgraph"
	cerrors "github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/scanner"
)

// Config configures one indexing run.
type Config struct {
	RootDir         string
	DataDir         string
	ChunkSize       int
	ChunkOverlap    int
	MaxFileSize     int64
	MaxFiles        int
	ExcludePatterns []string
	BatchSize       int
	CheckpointEvery int // files between checkpoint saves
	CooldownAfter   int // consecutive single-item embed failures before circuit opens
	Cooldown        time.Duration
}

// Result is the outcome of one indexing run (spec.md §6 "index" operation).
type Result struct {
	FilesProcessed int
	ChunksAdded    int
	ChunksRemoved  int
	StoppedEarly   bool
	DurationMs     int64
	Errors         []string
}

// Indexer drives one discovery -> embed -> cache-write pass over a workspace.
type Indexer struct {
	cache     *cache.Cache
	embedder  embed.Embedder
	scanner   *scanner.Scanner
	callgraph *callgraph.Extractor
	breaker   *cerrors.CircuitBreaker
	retryCfg  cerrors.RetryConfig
	cfg       Config
	logger    *slog.Logger
}

// New constructs an Indexer over an already-loaded cache and a ready embedder.
func New(c *cache.Cache, embedder embed.Embedder, sc *scanner.Scanner, cfg Config, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 200
	}
	if cfg.CooldownAfter <= 0 {
		cfg.CooldownAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Indexer{
		cache:     c,
		embedder:  embedder,
		scanner:   sc,
		callgraph: callgraph.NewExtractor(),
		breaker: cerrors.NewCircuitBreaker("embedder",
			cerrors.WithMaxFailures(cfg.CooldownAfter),
			cerrors.WithResetTimeout(cfg.Cooldown)),
		retryCfg: cerrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Close releases the call-graph extractor's parser.
func (ix *Indexer) Close() {
	ix.callgraph.Close()
}

type pendingChunk struct {
	file      string
	startLine uint32
	endLine   uint32
	content   string
}

// Run executes one full discovery-through-checkpoint pass.
func (ix *Indexer) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	result := Result{}

	discovered, err := ix.discover(ctx)
	if err != nil {
		return result, fmt.Errorf("discover files: %w", err)
	}
	if ctx.Err() != nil {
		result.StoppedEarly = true
		result.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	current := make(map[string]bool, len(discovered))
	for path := range discovered {
		current[path] = true
	}

	lengthBefore := ix.cache.Length()
	_, removeErrs := ix.reconcileDeletions(current)
	result.ChunksRemoved += lengthBefore - ix.cache.Length()
	result.Errors = append(result.Errors, removeErrs...)

	var pending []pendingChunk
	filesSinceCheckpoint := 0

	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := ix.embedAndStore(ctx, pending)
		result.ChunksAdded += n
		pending = pending[:0]
		return err
	}

	for path, info := range discovered {
		select {
		case <-ctx.Done():
			_ = flushPending()
			ix.cache.Save(false)
			result.StoppedEarly = true
			result.DurationMs = time.Since(start).Milliseconds()
			return result, nil
		default:
		}

		existing, hadHash := ix.cache.GetFileHash(path)
		hash, err := hashFileStreamed(info.absPath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("hash %s: %v", path, err))
			continue
		}
		if hadHash && existing.Hash == hash {
			continue // unchanged, nothing to do
		}

		content, err := os.ReadFile(info.absPath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read %s: %v", path, err))
			continue
		}
		if isBinaryContent(content) {
			continue
		}

		if hadHash {
			_ = ix.cache.RemoveFileFromStore(path)
		}

		windows := windowChunks(string(content), ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
		for _, w := range windows {
			pending = append(pending, pendingChunk{
				file:      path,
				startLine: uint32(w.StartLine),
				endLine:   uint32(w.EndLine),
				content:   w.Content,
			})
			if len(pending) >= ix.cfg.BatchSize {
				if err := flushPending(); err != nil {
					result.Errors = append(result.Errors, err.Error())
				}
			}
		}

		if entry, err := ix.callgraph.Extract(ctx, content, info.language); err == nil {
			ix.cache.SetCallGraphEntry(path, cache.CallGraphEntry{
				Definitions: entry.Definitions,
				Calls:       entry.Calls,
			})
		}

		ix.cache.SetFileHash(path, cache.FileHashEntry{
			Hash:    hash,
			MtimeMs: info.modTimeMs,
			Size:    info.size,
		})
		result.FilesProcessed++
		filesSinceCheckpoint++

		if filesSinceCheckpoint >= ix.cfg.CheckpointEvery {
			if err := flushPending(); err != nil {
				result.Errors = append(result.Errors, err.Error())
			}
			ix.cache.Save(false)
			ix.writeProgress(path, result.FilesProcessed)
			filesSinceCheckpoint = 0
		}
	}

	if err := flushPending(); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if err := ix.cache.Save(true); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("final save: %v", err))
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// reconcileDeletions removes every stored file absent from current, i.e.
// files deleted or newly gitignored since the last run, and reports how
// many were removed and any per-file removal errors.
func (ix *Indexer) reconcileDeletions(current map[string]bool) (removed int, errs []string) {
	storedHashes := ix.cache.FileHashes()
	storedFiles := make([]string, 0, len(storedHashes))
	for f := range storedHashes {
		storedFiles = append(storedFiles, f)
	}
	for _, gone := range detectDeletions(storedFiles, current) {
		if err := ix.cache.RemoveFileFromStore(gone); err != nil {
			errs = append(errs, fmt.Sprintf("remove %s: %v", gone, err))
			continue
		}
		ix.cache.RemoveFileHash(gone)
		removed++
	}
	return removed, errs
}

// ReconcileOnStartup performs a deletion-only pass over the workspace: it
// discovers the current file set and drops any previously-indexed file
// that no longer exists or has become gitignored, without re-embedding
// anything. It's meant to run once when a long-running server starts, so
// the store reflects on-disk reality immediately rather than waiting for
// the next full Run. When the on-disk .gitignore tree is unchanged since
// the last reconcile (tracked via a hash in DataDir), it skips the
// discovery walk entirely.
func (ix *Indexer) ReconcileOnStartup(ctx context.Context) (int, error) {
	hashPath := filepath.Join(ix.cfg.DataDir, "gitignore.hash")
	hash, err := computeGitignoreHash(ix.cfg.RootDir)
	if err == nil {
		if prev, readErr := os.ReadFile(hashPath); readErr == nil && string(prev) == hash {
			return 0, nil
		}
	}

	discovered, err := ix.discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover files: %w", err)
	}
	current := make(map[string]bool, len(discovered))
	for path := range discovered {
		current[path] = true
	}

	removed, errs := ix.reconcileDeletions(current)
	if removed > 0 {
		if err := ix.cache.Save(true); err != nil {
			ix.logger.Warn("reconcile save failed", slog.String("error", err.Error()))
		}
	}
	for _, e := range errs {
		ix.logger.Warn("reconcile: remove failed", slog.String("detail", e))
	}

	if hash != "" {
		_ = os.WriteFile(hashPath, []byte(hash), 0o644)
	}
	return removed, nil
}

// embedAndStore dispatches a batch to the embedder; on whole-batch failure
// it falls back to embedding items one at a time, each retried with backoff
// via errors.RetryWithResult, so a single bad chunk doesn't sink the rest of
// the batch (spec.md §4.4 failure semantics). ix.breaker trips once
// single-item embeds exhaust their retries CooldownAfter times in a row and
// forces the run to wait out Cooldown before trying the embedder again.
func (ix *Indexer) embedAndStore(ctx context.Context, batch []pendingChunk) (int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err == nil {
		for i, c := range batch {
			if _, err := ix.cache.AddToStore(cache.Chunk{
				File:      c.file,
				StartLine: c.startLine,
				EndLine:   c.endLine,
				Content:   c.content,
				Vector:    vectors[i],
			}); err != nil {
				ix.logger.Warn("add_to_store failed", slog.String("file", c.file), slog.String("error", err.Error()))
			}
		}
		ix.breaker.RecordSuccess()
		return len(batch), nil
	}

	ix.logger.Warn("batch embed failed, falling back to single-item embedding",
		slog.Int("batch_size", len(batch)), slog.String("error", err.Error()))

	stored := 0
	for _, c := range batch {
		if !ix.breaker.Allow() {
			ix.logger.Warn("embedder circuit breaker open, cooling down",
				slog.Duration("cooldown", ix.cfg.Cooldown), slog.Int("failures", ix.breaker.Failures()))
			select {
			case <-ctx.Done():
				return stored, ctx.Err()
			case <-time.After(ix.cfg.Cooldown):
			}
		}

		content := c.content
		vec, embedErr := cerrors.RetryWithResult(ctx, ix.retryCfg, func() ([]float32, error) {
			return ix.embedder.Embed(ctx, content)
		})
		if embedErr != nil {
			ix.breaker.RecordFailure()
			ix.logger.Warn("embedder error, skipping chunk",
				slog.String("file", c.file), slog.String("error", cerrors.EmbedderErrorf(embedErr.Error(), embedErr).Error()))
			continue
		}
		ix.breaker.RecordSuccess()
		if _, err := ix.cache.AddToStore(cache.Chunk{
			File:      c.file,
			StartLine: c.startLine,
			EndLine:   c.endLine,
			Content:   c.content,
			Vector:    vec,
		}); err != nil {
			ix.logger.Warn("add_to_store failed", slog.String("file", c.file), slog.String("error", err.Error()))
			continue
		}
		stored++
	}
	return stored, nil
}

type discoveredFile struct {
	absPath   string
	language  string
	size      int64
	modTimeMs int64
}

// discover walks the workspace via the scanner, keeping only files whose
// content type is code or markdown, per spec.md §4.4 step 1.
func (ix *Indexer) discover(ctx context.Context) (map[string]discoveredFile, error) {
	opts := &scanner.ScanOptions{
		RootDir:          ix.cfg.RootDir,
		ExcludePatterns:  ix.cfg.ExcludePatterns,
		RespectGitignore: true,
		MaxFileSize:      ix.cfg.MaxFileSize,
	}

	results, err := ix.scanner.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make(map[string]discoveredFile)
	for res := range results {
		if res.Error != nil || res.File == nil {
			continue
		}
		if res.File.ContentType != scanner.ContentTypeCode && res.File.ContentType != scanner.ContentTypeMarkdown {
			continue
		}
		if ix.cfg.MaxFiles > 0 && len(out) >= ix.cfg.MaxFiles {
			break
		}
		out[res.File.Path] = discoveredFile{
			absPath:   res.File.AbsPath,
			language:  res.File.Language,
			size:      res.File.Size,
			modTimeMs: res.File.ModTime.UnixMilli(),
		}
	}
	return out, nil
}

// writeProgress persists a small resume hint; actual resume precision comes
// from the file-hash map, this file is purely an observability artifact
// (spec.md §6 on-disk layout: progress.json).
func (ix *Indexer) writeProgress(lastFile string, filesProcessed int) {
	path := filepath.Join(ix.cfg.DataDir, "progress.json")
	payload := map[string]any{
		"last_file":       lastFile,
		"files_processed": filesProcessed,
		"updated_at":      time.Now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// hashFileStreamed streams a file through sha256 without loading it whole,
// matching the cache package's own streamed content-hash idiom.
func hashFileStreamed(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isBinaryContent reports whether content looks binary by probing for NUL
// bytes in its first 512 bytes. Duplicated (by design, matching the
// teacher's own duplication between lockfile/chunkstore) rather than
// exported from a shared location, to keep this package's dependency on
// scanner limited to discovery.
func isBinaryContent(content []byte) bool {
	n := 512
	if len(content) < n {
		n = len(content)
	}
	for i := 0; i < n; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
